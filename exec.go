package btrace

import "os"

// The exec family below mirrors the POSIX program-replacement calls. Each
// function appends a trace record, then tail-calls the real implementation;
// the real implementation's error is returned unchanged, and on success the
// call does not return. A nil or empty argv is legal and produces a record
// with an empty argument line.

// Execve replaces the process image with path, passing argv and envp
// verbatim to the execve system call.
func Execve(path string, argv, envp []string) error {
	sh := ensureInit()
	sh.logExecution(path, argv)
	return sh.execve(path, argv, envp)
}

// Execv is Execve with the current environment.
func Execv(path string, argv []string) error {
	return Execve(path, argv, os.Environ())
}

// Execvpe replaces the process image with file, located through a PATH
// search when file contains no slash, passing envp to the new image.
func Execvpe(file string, argv, envp []string) error {
	sh := ensureInit()
	sh.logExecution(file, argv)
	return sh.execvpe(file, argv, envp)
}

// Execvp is Execvpe with the current environment.
func Execvp(file string, argv []string) error {
	return Execvpe(file, argv, os.Environ())
}

// Execl replaces the process image with path; argv is assembled from the
// trailing arguments, conventionally starting with the program name.
func Execl(path string, args ...string) error {
	return Execve(path, args, os.Environ())
}

// Execlp is Execl with a PATH search.
func Execlp(file string, args ...string) error {
	return Execvpe(file, args, os.Environ())
}

// Execle is Execl with an explicit environment. envp precedes the argument
// list because a variadic parameter must come last; it is consumed even
// when args is empty.
func Execle(path string, envp []string, args ...string) error {
	return Execve(path, args, envp)
}
