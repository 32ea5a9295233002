// Package chain holds the ordered eligibility checks that gate every
// circulation transition. A chain is an immutable list of checks run in order;
// the first failing check decides the error.
package chain

type Check[T any] func(req T) error

type Chain[T any] struct {
	name   string
	checks []Check[T]
}

func New[T any](name string, checks ...Check[T]) Chain[T] {
	return Chain[T]{name: name, checks: append([]Check[T](nil), checks...)}
}

func (c Chain[T]) Name() string { return c.name }

func (c Chain[T]) Len() int { return len(c.checks) }

func (c Chain[T]) Run(req T) error {
	for _, check := range c.checks {
		if err := check(req); err != nil {
			return err
		}
	}
	return nil
}
