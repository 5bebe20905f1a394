package reward

import "errors"

var (
	ErrRoleAssignment = errors.New("role assignment failed")
	ErrDelivery       = errors.New("notification delivery failed")
)
