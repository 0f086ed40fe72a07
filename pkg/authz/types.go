package authz

import "strings"

const (
	userPrefix     = "user"
	rolePrefix     = "role"
	separator      = ":"
	anonymous      = "anonymous"
	actionWildcard = "*"
)

// Request is one authorization question: may Subject (acting with Role)
// perform Action on Object.
type Request struct {
	Subject string
	Role    string
	Object  string
	Action  string
}

func NewRequest(subject, role, object, action string) Request {
	return Request{
		Subject: subject,
		Role:    role,
		Object:  object,
		Action:  NormalizeAction(action),
	}
}

// SubjectForUser returns user:{id}. Empty ids map to user:anonymous.
func SubjectForUser(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = anonymous
	}
	return userPrefix + separator + userID
}

// SubjectForRole returns role:{slug}, lowercased. An already prefixed slug is kept.
func SubjectForRole(slug string) string {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return ""
	}
	if strings.HasPrefix(slug, rolePrefix+separator) {
		return slug
	}
	return rolePrefix + separator + slug
}

// ObjectName returns module.resource, lowercased.
func ObjectName(module, resource string) string {
	module = strings.ToLower(strings.TrimSpace(module))
	resource = strings.ToLower(strings.TrimSpace(resource))
	if module == "" {
		module = "global"
	}
	if resource == "" {
		resource = "resource"
	}
	return module + "." + resource
}

func NormalizeAction(action string) string {
	action = strings.ToLower(strings.TrimSpace(action))
	if action == "" {
		return actionWildcard
	}
	return action
}

// ParsePermission splits "object:action" as used by the overrides file.
func ParsePermission(s string) (object, action string, ok bool) {
	object, action, ok = strings.Cut(strings.TrimSpace(s), separator)
	object = strings.ToLower(strings.TrimSpace(object))
	action = NormalizeAction(action)
	if !ok || object == "" {
		return "", "", false
	}
	return object, action, true
}
