// Package logx is drillbot's structured logging layer.
//
// Logger is a small value type on top of zerolog:
//   - console output stays human readable (short timestamp + file:line)
//   - the optional file sink writes zerolog JSON lines
//   - the optional Telegram sink forwards warnings and errors to the
//     operator chat, rate limited so a failing tick cannot flood it
package logx
