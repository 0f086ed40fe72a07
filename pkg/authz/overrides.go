package authz

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sort"
)

// UserOverride grants extra roles and explicit allow/deny permissions to a
// single user. Permissions are "object:action" strings.
type UserOverride struct {
	Roles []string `json:"roles"`
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

type Overrides struct {
	Users map[string]UserOverride `json:"users"`
}

// LoadOverrides reads the overrides file. A missing file yields no overrides.
func LoadOverrides(path string) (Overrides, error) {
	if path == "" {
		return Overrides{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Overrides{}, nil
	}
	if err != nil {
		return Overrides{}, configError("read overrides %s: %v", path, err)
	}
	var out Overrides
	if err := json.Unmarshal(data, &out); err != nil {
		return Overrides{}, configError("parse overrides %s: %v", path, err)
	}
	return out, nil
}

type overridePolicies struct {
	policies [][]string
	groups   [][]string
}

// policies flattens overrides into casbin rules in a stable order.
func (o Overrides) policies() (overridePolicies, error) {
	ids := make([]string, 0, len(o.Users))
	for id := range o.Users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out overridePolicies
	for _, id := range ids {
		u := o.Users[id]
		sub := SubjectForUser(id)
		for _, role := range u.Roles {
			if r := SubjectForRole(role); r != "" {
				out.groups = append(out.groups, []string{sub, r})
			}
		}
		for _, set := range []struct {
			eft   string
			perms []string
		}{{"allow", u.Allow}, {"deny", u.Deny}} {
			for _, perm := range set.perms {
				obj, act, ok := ParsePermission(perm)
				if !ok {
					return overridePolicies{}, configError("invalid permission %q for user %s", perm, id)
				}
				out.policies = append(out.policies, []string{sub, obj, act, set.eft})
			}
		}
	}
	return out, nil
}
