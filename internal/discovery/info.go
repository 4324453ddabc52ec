package discovery

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Broadcast event names
const (
	EventRequestProvider  = "eip6963:requestProvider"
	EventAnnounceProvider = "eip6963:announceProvider"
)

// Info is the identity a wallet announces
type Info struct {
	UUID string `json:"uuid" validate:"required,uuid4"`
	Name string `json:"name" validate:"required"`
	Icon string `json:"icon" validate:"required,datauri"`
	RDNS string `json:"rdns" validate:"required,fqdn"`
}

var infoValidator = validator.New()

// NewInfo creates an identity with a fresh random uuid
func NewInfo(name, icon, rdns string) (Info, error) {
	info := Info{
		UUID: uuid.NewString(),
		Name: name,
		Icon: icon,
		RDNS: rdns,
	}
	if err := info.Validate(); err != nil {
		return Info{}, err
	}
	return info, nil
}

// Validate checks every field of the identity
func (i Info) Validate() error {
	if err := infoValidator.Struct(i); err != nil {
		return fmt.Errorf("invalid provider info: %w", err)
	}
	return nil
}

// Detail is the payload of an announcement. It cannot be modified once built.
type Detail struct {
	info     Info
	provider any
}

// NewDetail pairs an identity with the provider it describes
func NewDetail(info Info, provider any) Detail {
	return Detail{info: info, provider: provider}
}

// Info returns a copy of the announced identity
func (d Detail) Info() Info {
	return d.info
}

// Provider returns the announced provider
func (d Detail) Provider() any {
	return d.provider
}
