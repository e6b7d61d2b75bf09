// Package qajsonio routes an Executor run's cached results back onto the
// QA-JSON check entries they were resolved from.
package qajsonio

import (
	"github.com/ausseabed/mbesgc-go/internal/executor"
	"github.com/ausseabed/mbesgc-go/internal/gridcheck"
	"github.com/ausseabed/mbesgc-go/internal/model"
	"github.com/ausseabed/mbesgc-go/internal/qajson"
)

// ApplyResults writes every check result the executor accumulated for
// ifds back onto the qajson.Check entries that originally requested it
// (ifd.QAJSONChecks, index-aligned with ifd.Checks). IFDs are matched by
// their original (pre-preprocessing) identity, so this is safe to call
// with either the source or the preprocessing-substituted working list.
func ApplyResults(ifds []*model.IFD, exec *executor.Executor) {
	for _, ifd := range ifds {
		original := ifd.Source
		if original == nil {
			original = ifd
		}
		for i, checkRef := range ifd.Checks {
			if i >= len(ifd.QAJSONChecks) {
				break
			}
			out, ok := exec.Result(original, checkRef.CheckID)
			if !ok {
				continue
			}
			ifd.QAJSONChecks[i].Outputs = toQAJSONOutputs(out)
		}
	}
}

func toQAJSONOutputs(o gridcheck.Output) *qajson.Outputs {
	return &qajson.Outputs{
		Execution: qajson.Execution{
			Start:  o.Execution.Start,
			End:    o.Execution.End,
			Status: string(o.Execution.Status),
			Error:  o.Execution.Error,
		},
		Messages:   o.Messages,
		Data:       o.Data,
		CheckState: string(o.State),
	}
}
