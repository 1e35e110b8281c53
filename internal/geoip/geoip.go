package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"rayscan/internal/logger"
)

type Result struct {
	ISP     string `yaml:"isp,omitempty"`
	Country string `yaml:"country,omitempty"`
}

// Reader annotates exit IPs with ASN organisation and country.
// A nil *Reader is valid and resolves nothing.
type Reader struct {
	asn     *geoip2.Reader
	country *geoip2.Reader
}

// Open loads the MMDB files. Both paths are optional; when both are empty it
// returns a nil Reader. A broken country DB only costs country data.
func Open(asnPath, countryPath string) (*Reader, error) {
	if asnPath == "" && countryPath == "" {
		return nil, nil
	}

	r := &Reader{}
	if asnPath != "" {
		db, err := geoip2.Open(asnPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open ASN DB at %s: %w", asnPath, err)
		}
		r.asn = db
	}

	if countryPath != "" {
		db, err := geoip2.Open(countryPath)
		if err != nil {
			logger.Log.Warnf("Failed to open Country DB at %s: %v. Country data will be missing.", countryPath, err)
		} else {
			r.country = db
		}
	}
	return r, nil
}

func (r *Reader) Lookup(ipStr string) (*Result, error) {
	if r == nil {
		return nil, fmt.Errorf("geoip database not initialized")
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, fmt.Errorf("invalid ip: %s", ipStr)
	}

	res := &Result{ISP: "Unknown", Country: "XX"}

	if r.asn != nil {
		if asn, err := r.asn.ASN(ip); err == nil {
			res.ISP = asn.AutonomousSystemOrganization
		}
	}
	if r.country != nil {
		if c, err := r.country.Country(ip); err == nil && c.Country.IsoCode != "" {
			res.Country = c.Country.IsoCode
		}
	}
	return res, nil
}

func (r *Reader) Close() {
	if r == nil {
		return
	}
	if r.asn != nil {
		r.asn.Close()
	}
	if r.country != nil {
		r.country.Close()
	}
}
