package storagelog

import (
	"go.uber.org/zap"
)

// headMsg is a distinctive part of all messages.
const headMsg = "compound file operation"

// Write writes message about container's structural operation to logger.
func Write(logger *zap.Logger, fields ...zap.Field) {
	logger.Info(headMsg, fields...)
}

// PathField returns logger's field for element path inside the container.
func PathField(path string) zap.Field {
	return zap.String("path", path)
}

// OpField returns logger's field for operation type.
func OpField(op string) zap.Field {
	return zap.String("op", op)
}

// EntryField returns logger's field for directory entry index.
func EntryField(idx uint32) zap.Field {
	return zap.Uint32("entry", idx)
}

// SizeField returns logger's field for stream size.
func SizeField(sz uint64) zap.Field {
	return zap.Uint64("size", sz)
}
