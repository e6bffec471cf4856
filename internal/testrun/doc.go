// SPDX-License-Identifier: MPL-2.0

// Package testrun discovers test files and runs them across a bounded
// worker pool with per-test retries, timeouts and strict expected-failure
// handling.
//
// Every discovered file is one test. Each test moves through a small state
// machine:
//
//	Pending -> Running -> Passed
//	                   -> FailedRetryable -> Running -> ...
//	                   -> FailedFinal | TimedOut
//	                   -> XFailed | XPassed | XPassedStrict
//
// A test is attempted at most Retries+1 times. A test whose attempt exceeds
// the timeout has its process group killed; siblings keep running.
package testrun
