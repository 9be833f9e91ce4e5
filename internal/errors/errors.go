// Package errors re-exports github.com/cockroachdb/errors so the rest of the
// service has a single import for wrapping, marking and inspecting errors.
//
//	if err := store.SaveBooking(ctx, rec); err != nil {
//	    return errors.Mark(errors.Wrap(err, "persist booking"), ErrPersistence)
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
	GetAllHints = crdb.GetAllHints
)

var (
	Is     = crdb.Is
	IsAny  = crdb.IsAny
	As     = crdb.As
	Mark   = crdb.Mark
	Unwrap = crdb.Unwrap
	Cause  = crdb.Cause
)

// UnwrapAll returns the innermost cause.
var UnwrapAll = crdb.UnwrapAll
