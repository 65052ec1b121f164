package geo

import (
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/oschwald/geoip2-golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu      sync.Mutex
	records map[string]*geoip2.City
	calls   int
	closed  bool
}

func (f *fakeReader) City(ip net.IP) (*geoip2.City, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if rec, ok := f.records[ip.String()]; ok {
		return rec, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func city(country, continent, name string) *geoip2.City {
	c := &geoip2.City{}
	c.Country.IsoCode = country
	c.Continent.Code = continent
	c.City.Names = map[string]string{"en": name}
	return c
}

func TestResolverRegion(t *testing.T) {
	reader := &fakeReader{records: map[string]*geoip2.City{
		"81.2.69.142":   city("GB", "EU", "London"),
		"89.160.20.112": city("SE", "EU", "Linköping"),
		"216.160.83.56": city("US", "NA", "Milton"),
		"1.0.0.1":       city("AU", "OC", "Sydney"),
	}}
	r := newResolverWithReader(reader, map[string]string{"gb": "uk-south", "EU": "eu-central", "us": "us-east"})

	tests := []struct {
		ip   string
		want string
	}{
		{"81.2.69.142", "uk-south"},
		{"89.160.20.112", "eu-central"},
		{"216.160.83.56", "us-east"},
		{"1.0.0.1", ""},
		{"8.8.8.8", ""},
		{"127.0.0.1", ""},
		{"10.1.2.3", ""},
		{"not-an-ip", ""},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Region(tt.ip))
		})
	}

	loc, ok := r.Lookup("81.2.69.142")
	require.True(t, ok)
	assert.Equal(t, "London", loc.City)
}

func TestResolverCachesLookups(t *testing.T) {
	reader := &fakeReader{records: map[string]*geoip2.City{"81.2.69.142": city("GB", "EU", "London")}}
	r := newResolverWithReader(reader, nil)

	for i := 0; i < 5; i++ {
		_, ok := r.Lookup("81.2.69.142")
		require.True(t, ok)
	}
	assert.Equal(t, 1, reader.calls)

	require.NoError(t, r.Close())
	assert.True(t, reader.closed)
}

func TestResolverWithoutDatabase(t *testing.T) {
	var nilResolver *Resolver
	assert.False(t, nilResolver.Enabled())
	assert.Equal(t, "", nilResolver.Region("81.2.69.142"))
	assert.NoError(t, nilResolver.Close())

	r := NewResolver("", map[string]string{"GB": "uk"})
	assert.False(t, r.Enabled())
	assert.Equal(t, "", r.Region("81.2.69.142"))

	missing := NewResolver(filepath.Join(t.TempDir(), "missing.mmdb"), nil)
	assert.False(t, missing.Enabled())
}
