package heredity

import "errors"

var (
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrShapeMismatch   = errors.New("genome shape mismatch")
	ErrArityMismatch   = errors.New("chromosome arity mismatch")
	ErrAlreadyBound    = errors.New("genome already bound")
	ErrBindingReleased = errors.New("binding already released")
	ErrNotBound        = errors.New("binding does not belong to this store")
)
