//go:build linux

package worker

import (
	"fmt"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

// allowedSyscalls is the fixed syscall allow-list for the worker process.
// The worker never execs, but it does open outbound sockets itself: it
// dials Redis at startup and hosts the guest-facing fetch capability
// (sandboxfetch), both of which go through the stdlib net/http and net
// packages' ordinary socket/DNS path. The socket-family and clone (Go's
// runtime spawns OS threads with clone as goroutines fan out across
// cores) syscalls below are for the worker's own networking and
// threading, not a concession to guest code, which never reaches a
// syscall directly — it only ever calls back into host-implemented
// capabilities (fetch, command, store) exposed through the bridge.
var allowedSyscalls = []string{
	"read", "write", "readv", "writev", "close", "fstat", "lseek",
	"mmap", "munmap", "mprotect", "brk", "rt_sigaction", "rt_sigprocmask",
	"rt_sigreturn", "ioctl", "access", "pipe", "pipe2", "select", "poll",
	"sched_yield", "madvise", "dup", "dup2", "dup3", "nanosleep",
	"clock_gettime", "clock_nanosleep", "gettimeofday", "getpid", "getuid",
	"geteuid", "getgid", "getegid", "getppid", "getrandom",
	"exit", "exit_group", "futex", "sigaltstack", "epoll_create1",
	"epoll_ctl", "epoll_wait", "epoll_pwait", "eventfd2", "set_tid_address",
	"set_robust_list", "rseq", "prlimit64", "openat", "fcntl", "fstatfs",
	"statx", "socket", "connect", "bind", "sendto", "recvfrom", "sendmsg",
	"recvmsg", "getsockopt", "setsockopt", "getsockname", "getpeername",
	"shutdown", "socketpair", "clone", "clone3",
}

// ApplySeccomp installs the worker's syscall allow-list, killing the
// process on any violation. Call once at worker startup, before evaluating
// any guest code.
func ApplySeccomp() error {
	filter, err := seccomp.NewFilter(seccomp.ActKillProcess)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	for _, name := range allowedSyscalls {
		if err := filter.AddRuleExact(name, seccomp.ActAllow); err != nil {
			return fmt.Errorf("add seccomp rule %s: %w", name, err)
		}
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}
