package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/rileyhilliard/vmctl/internal/config"
	"github.com/rileyhilliard/vmctl/internal/dispatch"
	"github.com/rileyhilliard/vmctl/internal/lifecycle"
	"github.com/rileyhilliard/vmctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFlagsSpec(t *testing.T) {
	defaults := config.CreateDefaults{
		BaseDisk: "/images/base.qcow2",
		ISOImage: "/images/installer.iso",
		MemoryMB: 1024,
		CPUs:     2,
	}

	t.Run("config fills unset flags", func(t *testing.T) {
		spec := CreateFlags{BaseName: "  web ", Count: 3}.Spec(defaults)
		assert.Equal(t, lifecycle.BulkCreateSpec{
			BaseName: "web",
			Count:    3,
			BaseDisk: "/images/base.qcow2",
			ISOImage: "/images/installer.iso",
			MemoryMB: 1024,
			CPUs:     2,
		}, spec)
	})

	t.Run("flags win", func(t *testing.T) {
		spec := CreateFlags{
			BaseName: "db",
			Count:    1,
			BaseDisk: "/fast/db.qcow2",
			ISOImage: "/fast/db.iso",
			MemoryMB: 4096,
			CPUs:     8,
		}.Spec(defaults)
		assert.Equal(t, "/fast/db.qcow2", spec.BaseDisk)
		assert.Equal(t, "/fast/db.iso", spec.ISOImage)
		assert.Equal(t, 4096, spec.MemoryMB)
		assert.Equal(t, 8, spec.CPUs)
	})
}

func TestPositiveInt(t *testing.T) {
	assert.NoError(t, positiveInt("1"))
	assert.NoError(t, positiveInt(" 12 "))
	assert.Error(t, positiveInt("0"))
	assert.Error(t, positiveInt("-3"))
	assert.Error(t, positiveInt("two"))
	assert.Error(t, positiveInt(""))
}

func TestCreateAgainstSimulator(t *testing.T) {
	setMachineMode(t, true)
	sim, client := startSim(t, "db1")

	lc, err := lifecycle.Create(CreateFlags{BaseName: "web", Count: 3}.Spec(config.DefaultConfig().Create))
	require.NoError(t, err)

	var buf bytes.Buffer
	d := dispatch.New(client, nil, logger.Noop(), nil)
	require.NoError(t, runDispatch(context.Background(), d, lc, &buf))

	var got actionJSON
	decodeData(t, buf.Bytes(), &got)
	assert.Equal(t, "create web1..web3", got.Command)
	assert.Equal(t, []string{"web1", "web2", "web3"}, got.Affected)

	names := map[string]bool{}
	for _, vm := range sim.VMs() {
		names[vm.Name] = true
	}
	assert.Equal(t, map[string]bool{"db1": true, "web1": true, "web2": true, "web3": true}, names)
}

func TestCreateCollisionIsAllOrNothing(t *testing.T) {
	setMachineMode(t, false)
	sim, client := startSim(t, "web2")

	lc, err := lifecycle.Create(CreateFlags{BaseName: "web", Count: 3}.Spec(config.DefaultConfig().Create))
	require.NoError(t, err)

	var buf bytes.Buffer
	d := dispatch.New(client, nil, logger.Noop(), nil)
	err = runDispatch(context.Background(), d, lc, &buf)

	require.Error(t, err)
	assert.Contains(t, buf.String(), "already exists")
	assert.Len(t, sim.VMs(), 1)
}
