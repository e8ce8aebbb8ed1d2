package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/yegors/inbound-tracker/pkg/logger"
)

// Schedule provider defaults
const (
	DefaultFlightLabsURL    = "https://app.goflightlabs.com/advanced-real-time-flights"
	DefaultAviationStackURL = "https://api.aviationstack.com/v1/flights"
)

// FlightRecord is the flight object returned by both schedule providers.
// FlightLabs mirrors the AviationStack schema.
type FlightRecord struct {
	FlightStatus string       `json:"flight_status"`
	Departure    Movement     `json:"departure"`
	Arrival      Movement     `json:"arrival"`
	Flight       FlightIdent  `json:"flight"`
	Aircraft     AircraftInfo `json:"aircraft"`
	Live         *LiveReport  `json:"live"`
}

// Movement is one end of a scheduled flight
type Movement struct {
	Airport   string        `json:"airport"`
	IATA      string        `json:"iata"`
	ICAO      string        `json:"icao"`
	Delay     FlexibleField `json:"delay"`
	Scheduled *string       `json:"scheduled"`
	Estimated *string       `json:"estimated"`
	Actual    *string       `json:"actual"`
}

// FlightIdent carries the flight designators
type FlightIdent struct {
	Number string `json:"number"`
	IATA   string `json:"iata"`
	ICAO   string `json:"icao"`
}

// AircraftInfo identifies the airframe operating the flight
type AircraftInfo struct {
	Registration string `json:"registration"`
	IATA         string `json:"iata"`
	ICAO         string `json:"icao"`
	ICAO24       string `json:"icao24"`
}

// LiveReport is the provider's own last position, when it has one
type LiveReport struct {
	Updated         *string       `json:"updated"`
	Latitude        FlexibleField `json:"latitude"`
	Longitude       FlexibleField `json:"longitude"`
	Altitude        FlexibleField `json:"altitude"`
	Direction       FlexibleField `json:"direction"`
	SpeedHorizontal FlexibleField `json:"speed_horizontal"`
	SpeedVertical   FlexibleField `json:"speed_vertical"`
	IsGround        bool          `json:"is_ground"`
}

// FlightLabsClient looks flights up by registration and/or flight number
type FlightLabsClient struct {
	transport *transport
	apiKey    string
}

// NewFlightLabsClient creates a FlightLabs client
func NewFlightLabsClient(opts ClientOptions, log *logger.Logger) *FlightLabsClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultFlightLabsURL
	}
	return &FlightLabsClient{
		transport: newTransport(FlightLabs, opts, log.Named("flightlabs")),
		apiKey:    opts.APIKey,
	}
}

// Configured reports whether an API key is set
func (c *FlightLabsClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

// FetchByTailOrFlight returns the first matching flight, or nil when there is none
func (c *FlightLabsClient) FetchByTailOrFlight(ctx context.Context, tail, flightNumber string) (*FlightRecord, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: flightlabs api key not configured", ErrProviderUnavailable)
	}

	query := url.Values{"access_key": {c.apiKey}}
	if tail != "" {
		query.Set("reg_number", tail)
	}
	if flightNumber != "" {
		query.Set("flight_iata", flightNumber)
	}

	var raw json.RawMessage
	if err := c.transport.getJSON(ctx, query, nil, &raw); err != nil {
		return nil, err
	}
	return firstFlight(raw)
}

// firstFlight accepts {"data": [...]} or a bare array
func firstFlight(raw json.RawMessage) (*FlightRecord, error) {
	raw = bytes.TrimSpace(raw)
	var flights []FlightRecord

	switch {
	case len(raw) > 0 && raw[0] == '[':
		if err := json.Unmarshal(raw, &flights); err != nil {
			return nil, fmt.Errorf("%w: malformed flight list: %v", ErrProviderUnavailable, err)
		}
	case len(raw) > 0 && raw[0] == '{':
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("%w: malformed envelope: %v", ErrProviderUnavailable, err)
		}
		data := bytes.TrimSpace(envelope.Data)
		if len(data) == 0 || data[0] != '[' {
			return nil, nil
		}
		if err := json.Unmarshal(data, &flights); err != nil {
			return nil, fmt.Errorf("%w: malformed flight list: %v", ErrProviderUnavailable, err)
		}
	default:
		return nil, nil
	}

	if len(flights) == 0 {
		return nil, nil
	}
	return &flights[0], nil
}

// AviationStackClient looks flights up by flight number only
type AviationStackClient struct {
	transport *transport
	apiKey    string
}

// NewAviationStackClient creates an AviationStack client
func NewAviationStackClient(opts ClientOptions, log *logger.Logger) *AviationStackClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultAviationStackURL
	}
	return &AviationStackClient{
		transport: newTransport(AviationStack, opts, log.Named("aviationstack")),
		apiKey:    opts.APIKey,
	}
}

// Configured reports whether an API key is set
func (c *AviationStackClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

// FetchByFlightNumber returns the first matching flight, or nil when there is none
func (c *AviationStackClient) FetchByFlightNumber(ctx context.Context, flightNumber string) (*FlightRecord, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: aviationstack api key not configured", ErrProviderUnavailable)
	}

	query := url.Values{
		"access_key":  {c.apiKey},
		"flight_iata": {flightNumber},
	}

	var resp struct {
		Data []FlightRecord `json:"data"`
	}
	if err := c.transport.getJSON(ctx, query, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	return &resp.Data[0], nil
}
