package executor_test

import (
	"context"
	"fmt"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/execlog"
	"github.com/roach88/effectcore/executor"
	"github.com/roach88/effectcore/handler"
	"github.com/roach88/effectcore/internal/ir"
	"github.com/roach88/effectcore/lock"
	"github.com/roach88/effectcore/state"
)

func ExampleExecutor_Execute() {
	st, err := state.FromValues(map[effect.ResourceID]ir.Value{"acct": ir.Int(100)})
	if err != nil {
		panic(err)
	}
	x, err := executor.New(lock.New(), handler.Ledger(), execlog.New(), executor.WithState(st))
	if err != nil {
		panic(err)
	}

	d, _ := effect.NewDeposit("acct", 50)
	res, err := x.Execute(context.Background(), "task-1", d, effect.NewCapabilitySet("ledger.deposit"))
	if err != nil {
		panic(err)
	}
	fmt.Println(res.Outcome, res.Phase())
	// Output: Success({"balance":150}) ResourcesReleased
}
