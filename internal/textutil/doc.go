// Package textutil holds small text helpers shared by the command builders:
// shell-style argument splitting for encoder parameter strings and a bounded
// tail buffer for capturing child process stderr.
package textutil
