package commissioning

import (
	"github.com/shimmeringbee/zigbee"

	"github.com/greenpower/gpd-go/pkg/wire"
)

// Application is the application collaborator of a Device. Callbacks run
// on the goroutine calling Step.
type Application interface {
	// Identity supplies the extended address and endpoint for long
	// addressing. ok=false keeps the configured identity.
	Identity() (ieee zigbee.IEEEAddress, endpoint zigbee.Endpoint, ok bool)

	// NextAppDescription returns the next application description chunk
	// and whether it is the last one.
	NextAppDescription() (chunk []byte, last bool)

	// SwitchStatus returns the current contact status byte.
	SwitchStatus() uint8

	// HandleCommand receives an authenticated command addressed to the
	// device once it is commissioned.
	HandleCommand(cmd uint8, payload []byte)

	// ChannelReceived is called when the operating channel was assigned.
	ChannelReceived(channel uint8)

	// CommissioningReplyReceived is called after a reply was applied.
	CommissioningReplyReceived(reply *wire.CommissioningReply)
}

// NopApplication implements Application with no behavior. Embed it to
// implement only some callbacks.
type NopApplication struct{}

func (NopApplication) Identity() (zigbee.IEEEAddress, zigbee.Endpoint, bool) { return 0, 0, false }
func (NopApplication) NextAppDescription() ([]byte, bool)                    { return nil, true }
func (NopApplication) SwitchStatus() uint8                                   { return 0 }
func (NopApplication) HandleCommand(uint8, []byte)                           {}
func (NopApplication) ChannelReceived(uint8)                                 {}
func (NopApplication) CommissioningReplyReceived(*wire.CommissioningReply)   {}

var _ Application = NopApplication{}
