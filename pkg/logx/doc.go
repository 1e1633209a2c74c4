// Package logx configures unibot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and size-rotated
//   - An optional chat sink (min-level + rate limiting) that mirrors warnings to the owner chat
package logx
