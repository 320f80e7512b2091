package client

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/ups-track-resolver/pkg/resolve"
)

// activityTimeLayout is the concatenation of the activity date and time fields.
const activityTimeLayout = "20060102150405"

// trackResponse is the subset of the carrier tracking payload the resolver reads.
type trackResponse struct {
	TrackResponse *struct {
		Shipment []struct {
			InquiryNumber string `json:"inquiryNumber"`
			Package       []struct {
				TrackingNumber string `json:"trackingNumber"`
				Service        *struct {
					Code        string `json:"code"`
					Description string `json:"description"`
				} `json:"service"`
				Activity []activity `json:"activity"`
			} `json:"package"`
			Warnings []struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"warnings"`
		} `json:"shipment"`
	} `json:"trackResponse"`
}

type activity struct {
	Location struct {
		Address struct {
			City          string `json:"city"`
			StateProvince string `json:"stateProvince"`
			Country       string `json:"country"`
			CountryCode   string `json:"countryCode"`
		} `json:"address"`
	} `json:"location"`
	Status struct {
		Type        string `json:"type"`
		Description string `json:"description"`
		Code        string `json:"code"`
		StatusCode  string `json:"statusCode"`
	} `json:"status"`
	Date string `json:"date"`
	Time string `json:"time"`
}

// Normalize extracts the latest activity of the first package of the first
// shipment. It returns ErrMalformedResponse for bodies that are not tracking
// responses and ErrNoActivity when the shipment has nothing to report.
func Normalize(body []byte) (*resolve.Record, error) {
	var tr trackResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if tr.TrackResponse == nil {
		return nil, fmt.Errorf("%w: missing trackResponse", ErrMalformedResponse)
	}

	if len(tr.TrackResponse.Shipment) == 0 {
		return nil, ErrNoActivity
	}
	shipment := tr.TrackResponse.Shipment[0]

	if len(shipment.Package) == 0 || len(shipment.Package[0].Activity) == 0 {
		if len(shipment.Warnings) > 0 && shipment.Warnings[0].Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoActivity, shipment.Warnings[0].Message)
		}
		return nil, ErrNoActivity
	}
	pkg := shipment.Package[0]
	act := pkg.Activity[0]

	addr := act.Location.Address
	country := addr.Country
	if country == "" {
		country = addr.CountryCode
	}

	service := "N/A"
	if pkg.Service != nil && pkg.Service.Description != "" {
		service = pkg.Service.Description
	}

	return &resolve.Record{
		City:              addr.City,
		State:             addr.StateProvince,
		Country:           country,
		StatusDescription: strings.TrimSpace(act.Status.Description),
		StatusCode:        act.Status.StatusCode,
		EventTime:         parseActivityTime(act.Date, act.Time),
		Service:           service,
	}, nil
}

// parseActivityTime combines yyyyMMdd and HHmmss. The carrier sends local
// time without a zone; the value is kept as UTC wall time. Unparseable input
// yields the zero time.
func parseActivityTime(date, clock string) time.Time {
	t, err := time.Parse(activityTimeLayout, date+clock)
	if err != nil {
		return time.Time{}
	}
	return t
}
