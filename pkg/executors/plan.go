package executors

import (
	"context"
	"fmt"

	"github.com/yurifrl/budgetimport/pkg/plan"
)

// Plan imports every manifest statement without persisting anything and
// prints a preview of what Apply would do.
func (e *Executor) Plan(ctx context.Context, p *plan.Plan) error {
	e.logger.Debug("planning manifest", "statements", len(p.Statements))

	rs, err := e.rules(ctx, p)
	if err != nil {
		return err
	}

	for _, st := range p.Statements {
		e.logger.Debug("planning statement", "file", st.File, "account", st.Account)

		res, err := e.run(ctx, p, st, rs)
		if err != nil {
			return err
		}

		fmt.Printf("\n%s -> %s\n", st.File, st.Account)
		for _, line := range Lines(res) {
			fmt.Println(line)
		}
		fmt.Println(Summary(res))
	}
	return nil
}
