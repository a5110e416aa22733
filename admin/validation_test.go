package admin

import (
	"testing"

	"github.com/magiconair/properties/assert"
	"github.com/stretchr/testify/require"

	"splinter/configs"
	"splinter/utils"
	"splinter/wire"
)

func validCircuit() wire.Circuit {
	return wire.Circuit{
		CircuitID: "QAZED-12345",
		Roster: []wire.SplinterService{
			{ServiceID: "svc-a", ServiceType: "scabbard", AllowedNodes: []string{"Node-A"}},
			{ServiceID: "svc-b", ServiceType: "scabbard", AllowedNodes: []string{"Node-B"}},
		},
		Members: []wire.SplinterNode{
			{NodeID: "Node-A", Endpoints: []string{"tcp://127.0.0.1:8044"}},
			{NodeID: "Node-B", Endpoints: []string{"tcp://127.0.0.1:8045"}},
		},
		AuthorizationType:     wire.CircuitAuthTrust,
		CircuitManagementType: "test",
	}
}

func TestValidCircuitPasses(t *testing.T) {
	c := validCircuit()
	require.NoError(t, ValidateCircuit(&c))
}

func TestValidationFailures(t *testing.T) {
	t.Setenv(configs.CircuitManagementTypeEnv, "")
	t.Setenv(configs.CircuitServiceTypeEnv, "")
	cases := map[string]func(c *wire.Circuit){
		"bad circuit id":     func(c *wire.Circuit) { c.CircuitID = "not-a-circuit-id" },
		"no members":         func(c *wire.Circuit) { c.Members = nil },
		"member no endpoint": func(c *wire.Circuit) { c.Members[0].Endpoints = nil },
		"duplicate node": func(c *wire.Circuit) {
			c.Members[1].NodeID = "Node-A"
			c.Members[1].Endpoints = []string{"tcp://127.0.0.1:9999"}
		},
		"endpoint conflict": func(c *wire.Circuit) {
			c.Members[1].Endpoints = []string{"tcp://127.0.0.1:8044"}
		},
		"duplicate service": func(c *wire.Circuit) { c.Roster[1].ServiceID = "svc-a" },
		"allowed node not a member": func(c *wire.Circuit) {
			c.Roster[0].AllowedNodes = []string{"Node-Z"}
		},
		"duplicate argument": func(c *wire.Circuit) {
			c.Roster[0].Arguments = []wire.ServiceArgument{
				{Key: "peer_services", Value: "a"}, {Key: "peer_services", Value: "b"},
			}
		},
		"unknown auth type": func(c *wire.Circuit) { c.AuthorizationType = 99 },
		"empty management type": func(c *wire.Circuit) {
			c.CircuitManagementType = ""
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := validCircuit()
			mutate(&c)
			err := ValidateCircuit(&c)
			require.Error(t, err)
			assert.Equal(t, utils.KindOf(err), utils.KindInvalidState)
		})
	}
}
