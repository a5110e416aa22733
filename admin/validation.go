package admin

import (
	"os"

	mapset "github.com/deckarep/golang-set"

	"splinter/configs"
	"splinter/utils"
	"splinter/wire"
)

// ValidateCircuit enforces the admission rules on a proposed circuit. It is
// applied identically to circuits built locally (CLI, client) and to
// proposals arriving from the network.
func ValidateCircuit(c *wire.Circuit) error {
	if !utils.ValidateCircuitID(c.CircuitID) {
		return utils.Errorf(utils.KindInvalidState,
			"circuit id %s does not match the required format", c.CircuitID)
	}
	if len(c.Members) == 0 {
		return utils.NewError(utils.KindInvalidState, "circuit has no members")
	}

	members := mapset.NewSet()
	endpoints := mapset.NewSet()
	for _, node := range c.Members {
		if node.NodeID == "" {
			return utils.NewError(utils.KindInvalidState, "member with empty node id")
		}
		if !members.Add(node.NodeID) {
			return utils.Errorf(utils.KindInvalidState, "duplicate node id %s", node.NodeID)
		}
		if len(node.Endpoints) == 0 {
			return utils.Errorf(utils.KindInvalidState,
				"member %s has no endpoints", node.NodeID)
		}
		for _, endpoint := range node.Endpoints {
			if !endpoints.Add(endpoint) {
				return utils.Errorf(utils.KindInvalidState,
					"endpoint %s listed by more than one member", endpoint)
			}
		}
	}

	serviceIDs := mapset.NewSet()
	for i := range c.Roster {
		svc := &c.Roster[i]
		if svc.ServiceID == "" {
			return utils.NewError(utils.KindInvalidState, "service with empty id")
		}
		if !serviceIDs.Add(svc.ServiceID) {
			return utils.Errorf(utils.KindInvalidState, "duplicate service id %s", svc.ServiceID)
		}
		if svc.ServiceType == "" {
			svc.ServiceType = os.Getenv(configs.CircuitServiceTypeEnv)
			if svc.ServiceType == "" {
				return utils.Errorf(utils.KindInvalidState,
					"service %s has no service type", svc.ServiceID)
			}
		}
		allowed := mapset.NewSet()
		for _, node := range svc.AllowedNodes {
			allowed.Add(node)
		}
		if !allowed.IsSubset(members) {
			return utils.Errorf(utils.KindInvalidState,
				"service %s allows nodes outside the membership", svc.ServiceID)
		}
		argKeys := mapset.NewSet()
		for _, arg := range svc.Arguments {
			if !argKeys.Add(arg.Key) {
				return utils.Errorf(utils.KindInvalidState,
					"service %s repeats argument %s", svc.ServiceID, arg.Key)
			}
		}
	}

	switch c.AuthorizationType {
	case wire.CircuitAuthTrust, wire.CircuitAuthChallenge:
	default:
		return utils.NewError(utils.KindInvalidState, "unknown authorization type")
	}

	if c.CircuitManagementType == "" {
		c.CircuitManagementType = os.Getenv(configs.CircuitManagementTypeEnv)
		if c.CircuitManagementType == "" {
			return utils.NewError(utils.KindInvalidState, "management type is empty")
		}
	}
	return nil
}
