// Package logx configures dashcap's structured logging.
//
// Logger is a thin value wrapper over zerolog:
//   - console output stays human readable (short timestamp, file:line caller)
//   - the optional file sink writes JSON lines
//   - the optional forward sink ships warnings to a Forwarder (min level + rate limit)
package logx
