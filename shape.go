package scopedb

import "context"

// queryFunc is the Query method of the role embedding a shaper.
type queryFunc func(ctx context.Context, q Query) (*Result, error)

// shaper implements the row-count checked query methods once on top of a
// role's Query method. DB, Tx and Task embed it.
type shaper struct {
	query queryFunc
}

// Any returns every row, zero or more.
func (s shaper) Any(ctx context.Context, q Query) ([]Row, error) {
	res, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// None runs q and fails with ErrUnexpectedData if it returned any row.
func (s shaper) None(ctx context.Context, q Query) error {
	res, err := s.query(ctx, q)
	if err != nil {
		return err
	}
	if n := len(res.Rows); n > 0 {
		return cardinalityError(CodeUnexpectedData, "None", q, n)
	}
	return nil
}

// One returns the single row of q. It fails with ErrNoData when there is no
// row and with ErrMultipleRows when there is more than one.
func (s shaper) One(ctx context.Context, q Query) (Row, error) {
	res, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	switch n := len(res.Rows); {
	case n == 0:
		return nil, cardinalityError(CodeNoData, "One", q, n)
	case n > 1:
		return nil, cardinalityError(CodeMultipleRows, "One", q, n)
	}
	return res.Rows[0], nil
}

// OneOrNone returns the single row of q, or a nil Row when there is none.
// It fails with ErrMultipleRows when there is more than one.
func (s shaper) OneOrNone(ctx context.Context, q Query) (Row, error) {
	res, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	switch n := len(res.Rows); {
	case n == 0:
		return nil, nil
	case n > 1:
		return nil, cardinalityError(CodeMultipleRows, "OneOrNone", q, n)
	}
	return res.Rows[0], nil
}

// Many returns at least one row, failing with ErrNoData otherwise.
func (s shaper) Many(ctx context.Context, q Query) ([]Row, error) {
	res, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	if n := len(res.Rows); n == 0 {
		return nil, cardinalityError(CodeNoData, "Many", q, n)
	}
	return res.Rows, nil
}
