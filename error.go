package colstore

import "errors"

var (
	ErrClosed           = errors.New("closed")
	ErrReadOnly         = errors.New("read-only")
	ErrInvalidPageSize  = errors.New("invalid page size")
	ErrBadPageKind      = errors.New("bad page kind")
	ErrBadMeta          = errors.New("bad meta")
	ErrBadStream        = errors.New("bad attribute stream")
	ErrBadChunk         = errors.New("bad chunk")
	ErrBadUndoRecord    = errors.New("bad undo record")
	ErrBadToastChain    = errors.New("bad toast chain")
	ErrBadCompression   = errors.New("bad compression")
	ErrFileEmpty        = errors.New("empty file")
	ErrFileTruncated    = errors.New("file truncated")
	ErrNoSpace          = errors.New("no space")
	ErrUnsupported      = errors.New("unsupported")
	ErrOutOfRange       = errors.New("out of range")
	ErrAllocateFailed   = errors.New("allocate failed")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrValueTooLarge    = errors.New("value too large")
	ErrUnknownAttribute = errors.New("unknown attribute")
)
