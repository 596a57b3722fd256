package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blescale/internal/transport"
)

func char(uuid string, props transport.Properties, withCCCD bool) *transport.Characteristic {
	c := &transport.Characteristic{UUID: uuid, Properties: props}
	if withCCCD {
		c.Descriptors = []*transport.Descriptor{{UUID: transport.CCCDUUID, CharUUID: uuid}}
	}
	return c
}

func service(chars ...*transport.Characteristic) *transport.Service {
	return &transport.Service{UUID: "181d", Characteristics: chars}
}

// TestResolvePrefersNotifyOverIndicate verifies that a notify-capable
// characteristic wins even when an indicate-capable one is enumerated first.
func TestResolvePrefersNotifyOverIndicate(t *testing.T) {
	// GOAL: notify beats indicate across the whole profile, not per service.
	ind := char("2a9d", transport.PropIndicate, true)
	not := char("ffe1", transport.PropNotify, true)

	set := Resolve([]*transport.Service{service(ind), service(not)})

	require.NotNil(t, set.Notify, "MUST resolve a subscription endpoint")
	assert.Equal(t, "ffe1", set.Notify.UUID, "MUST pick the notify-capable characteristic")
	assert.False(t, set.Indicate, "MUST NOT flag indicate mode when notify was available")
	require.NotNil(t, set.CCCD, "MUST carry the CCCD of the chosen characteristic")
	assert.Equal(t, "ffe1", set.CCCD.CharUUID)
}

// TestResolveIndicateFallback verifies indicate is used when nothing notifies.
func TestResolveIndicateFallback(t *testing.T) {
	ind := char("2a9d", transport.PropIndicate, true)

	set := Resolve([]*transport.Service{service(ind)})

	require.NotNil(t, set.Notify, "MUST fall back to the indicate-capable characteristic")
	assert.Equal(t, "2a9d", set.Notify.UUID)
	assert.True(t, set.Indicate, "MUST flag indicate mode for the descriptor write")
	assert.Equal(t, transport.CCCDEnableIndicate, set.EnableValue())
}

// TestResolveWriteAndReadPickFirst verifies write and read endpoints are the
// first capable characteristics in enumeration order.
func TestResolveWriteAndReadPickFirst(t *testing.T) {
	wnr := char("ffe2", transport.PropWriteNoResponse, false)
	w := char("ffe3", transport.PropWrite, false)
	r1 := char("2a00", transport.PropRead, false)
	r2 := char("2a01", transport.PropRead, false)

	set := Resolve([]*transport.Service{service(wnr, w, r1, r2)})

	require.NotNil(t, set.Write)
	assert.Equal(t, "ffe2", set.Write.UUID, "MUST accept write-without-response as a write endpoint")
	require.NotNil(t, set.Read)
	assert.Equal(t, "2a00", set.Read.UUID, "MUST pick the first read-capable characteristic")
}

// TestResolveSharedCharacteristic verifies one characteristic may fill
// several roles at once.
func TestResolveSharedCharacteristic(t *testing.T) {
	all := char("ffe1", transport.PropRead|transport.PropWrite|transport.PropNotify, true)

	set := Resolve([]*transport.Service{service(all)})

	assert.Same(t, all, set.Notify)
	assert.Same(t, all, set.Write)
	assert.Same(t, all, set.Read)
	assert.False(t, set.Zero())
}

// TestResolveEmptyProfile verifies resolution of nothing is not an error.
func TestResolveEmptyProfile(t *testing.T) {
	set := Resolve(nil)

	assert.True(t, set.Zero(), "MUST report a zero set for an empty profile")
	assert.Nil(t, set.CCCD)
}

// TestResolveNotifyWithoutCCCD verifies a missing descriptor leaves CCCD nil
// while still selecting the characteristic.
func TestResolveNotifyWithoutCCCD(t *testing.T) {
	not := char("ffe1", transport.PropNotify, false)

	set := Resolve([]*transport.Service{service(not)})

	require.NotNil(t, set.Notify)
	assert.Nil(t, set.CCCD, "MUST leave CCCD nil when discovery exposed no descriptor")
}

func TestEnableValueDefaultsToNotify(t *testing.T) {
	assert.Equal(t, transport.CCCDEnableNotify, Set{}.EnableValue())
}
