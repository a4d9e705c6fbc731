package engine

import "context"

// enablingEvaluator decides whether a task is enabled given the current
// marking of its input conditions and, for an OR-join, the state of the
// tasks that could still feed a missing token.
type enablingEvaluator struct {
	def *Definition
}

func newEnablingEvaluator(def *Definition) *enablingEvaluator {
	return &enablingEvaluator{def: def}
}

// markingReader is the minimal read surface the evaluator needs; a
// *runCtx satisfies it.
type markingReader interface {
	readCondition(ctx context.Context, name string) (*Condition, error)
	readTask(ctx context.Context, name string) (*Task, error)
}

// isEnabled implements the join semantics:
//
//   - AND-join: every input condition carries at least one token.
//   - XOR-join: exactly one input condition carries at least one token.
//   - OR-join: at least one input condition carries a token, and every
//     input condition still at zero is unreachable -- no predecessor
//     task that could still deposit a token into it is in a live state
//     (Enabled or Started). This is a conservative approximation: it
//     may hold a join open slightly longer than strictly necessary
//     when a predecessor is reachable only through a branch that will
//     never fire, but it never fires a join before all outstanding
//     producers have settled.
func (e *enablingEvaluator) isEnabled(ctx context.Context, mr markingReader, t *TaskSpec) (bool, error) {
	if len(t.Inputs) == 0 {
		return false, nil
	}

	marked := 0
	var unmarked []string
	for _, in := range t.Inputs {
		c, err := mr.readCondition(ctx, in)
		if err != nil {
			return false, err
		}
		if c != nil && c.Marking > 0 {
			marked++
		} else {
			unmarked = append(unmarked, in)
		}
	}

	switch t.Join {
	case JoinAnd:
		return marked == len(t.Inputs), nil
	case JoinXor:
		return marked == 1, nil
	case JoinOr:
		if marked == 0 {
			return false, nil
		}
		for _, name := range unmarked {
			reachable, err := e.orJoinBranchReachable(ctx, mr, name)
			if err != nil {
				return false, err
			}
			if reachable {
				return false, nil
			}
		}
		return true, nil
	default:
		return marked == len(t.Inputs), nil
	}
}

// orJoinBranchReachable reports whether some predecessor of
// conditionName might still deposit a token into it.
func (e *enablingEvaluator) orJoinBranchReachable(ctx context.Context, mr markingReader, conditionName string) (bool, error) {
	for _, predName := range e.def.PredecessorTasks(conditionName) {
		pt, err := mr.readTask(ctx, predName)
		if err != nil {
			return false, err
		}
		if pt == nil {
			continue
		}
		if pt.State == TaskEnabled || pt.State == TaskStarted {
			return true, nil
		}
	}
	return false, nil
}
