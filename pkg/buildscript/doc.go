// Package buildscript runs a source distribution's setup.py under the
// metaextract inspection command and collects the JSON it writes.
//
// # Protocol
//
// The subprocess is spawned from an argument vector, never through a shell:
//
//	<interpreter> setup.py -q --command-packages metaextract metaextract -o <file>
//
// The working directory is the resolved source directory. <file> lives in a
// private temporary directory outside the extraction workspace, so the build
// script cannot collide with it. The inspection command itself is embedded in
// this package and staged onto PYTHONPATH for each run (see [StagePlugin]).
//
// # Retry
//
// Older sdists often contain non-ASCII bytes in setup.py without a PEP 263
// declaration, which modern interpreters reject. When the first attempt exits
// non-zero the runner prepends
//
//	# -*- coding: utf-8 -*-
//
// to the script and tries exactly once more. A script that already declares
// an encoding is left alone, so repeated runs over the same tree never stack
// headers. A second failure is returned as ErrCodeSubprocessFailure with an
// [errors.ExitError] cause carrying the captured output.
//
// # Time limits
//
// Each attempt runs under its own timeout ([DefaultTimeout] unless
// Runner.Timeout is set). An attempt that hits the limit is killed and the
// run fails with ErrCodeSubprocessTimeout; timeouts are not retried.
// Cancelling the caller's context kills the child and Run returns the
// context's error.
package buildscript
