package scopedb

import (
	"context"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Decode copies a row into a T, matching columns to fields by their `db`
// tag (or field name, case-insensitively).
//
// Usage:
//
//	type User struct {
//	    ID    int64  `db:"id"`
//	    Email string `db:"email"`
//	}
//	row, err := db.One(ctx, scopedb.Q("SELECT id, email FROM users WHERE id = $1", id))
//	user, err := scopedb.Decode[User](row)
func Decode[T any](row Row) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "db",
		Result:           &out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(map[string]any(row)); err != nil {
		return out, &Error{
			Code:    CodeUnknown,
			Message: "failed to decode row: " + err.Error(),
			Op:      "Decode",
			Cause:   err,
		}
	}
	return out, nil
}

// DecodeAll decodes every row into a T
func DecodeAll[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := Decode[T](row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// OneAs runs One and decodes the row into a T
func OneAs[T any](ctx context.Context, db Queryable, q Query) (T, error) {
	row, err := db.One(ctx, q)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](row)
}

// OneOrNoneAs runs OneOrNone and decodes the row, returning nil when the
// query found nothing.
func OneOrNoneAs[T any](ctx context.Context, db Queryable, q Query) (*T, error) {
	row, err := db.OneOrNone(ctx, q)
	if err != nil || row == nil {
		return nil, err
	}
	v, err := Decode[T](row)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// AnyAs runs Any and decodes every row
func AnyAs[T any](ctx context.Context, db Queryable, q Query) ([]T, error) {
	rows, err := db.Any(ctx, q)
	if err != nil {
		return nil, err
	}
	return DecodeAll[T](rows)
}

// ManyAs runs Many and decodes every row
func ManyAs[T any](ctx context.Context, db Queryable, q Query) ([]T, error) {
	rows, err := db.Many(ctx, q)
	if err != nil {
		return nil, err
	}
	return DecodeAll[T](rows)
}
