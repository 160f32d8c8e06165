//go:build linux || darwin

package osutil

import (
	"fmt"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

var (
	setgid = unix.Setgid
	setuid = unix.Setuid
)

// DropPrivileges switches the process to the named group and then to the
// named user. Either name may be empty, in which case that step is skipped.
// Numeric IDs are accepted when no name matches.
//
// The group is changed first because a process that has already given up
// root can no longer change its group.
func DropPrivileges(username string, group string) error {
	if len(group) > 0 {
		gid, err := LookupGID(group)
		if err != nil {
			return err
		}

		err = setgid(gid)
		if err != nil {
			return fmt.Errorf("failed to set group to '%s' (%d) - %w", group, gid, err)
		}
	}

	if len(username) > 0 {
		uid, err := LookupUID(username)
		if err != nil {
			return err
		}

		err = setuid(uid)
		if err != nil {
			return fmt.Errorf("failed to set user to '%s' (%d) - %w", username, uid, err)
		}
	}

	return nil
}

// LookupUID resolves a user name (or a numeric user ID) to a user ID.
func LookupUID(username string) (int, error) {
	u, err := user.Lookup(username)
	if err != nil {
		u, err = user.LookupId(username)
		if err != nil {
			return 0, fmt.Errorf("failed to find user '%s' - %w", username, err)
		}
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, fmt.Errorf("user '%s' has a non-numeric uid '%s'", username, u.Uid)
	}

	return uid, nil
}

// LookupGID resolves a group name (or a numeric group ID) to a group ID.
func LookupGID(group string) (int, error) {
	g, err := user.LookupGroup(group)
	if err != nil {
		g, err = user.LookupGroupId(group)
		if err != nil {
			return 0, fmt.Errorf("failed to find group '%s' - %w", group, err)
		}
	}

	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, fmt.Errorf("group '%s' has a non-numeric gid '%s'", group, g.Gid)
	}

	return gid, nil
}
