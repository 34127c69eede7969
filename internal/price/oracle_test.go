package price

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubProvider struct {
	name  string
	price float64
	err   error
	panic bool
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Price(context.Context, string) (float64, error) {
	s.calls++
	if s.panic {
		panic("boom")
	}
	return s.price, s.err
}

func TestOracle_FirstPositiveWins(t *testing.T) {
	a := &stubProvider{name: "a", err: errors.New("down")}
	b := &stubProvider{name: "b", price: 0}
	c := &stubProvider{name: "c", price: 0.000124}
	d := &stubProvider{name: "d", price: 1}

	o := NewOracle(time.Second, a, b, c, d)
	price, ok := o.GetPrice(context.Background(), "mint")

	assert.True(t, ok)
	assert.Equal(t, 0.000124, price)
	assert.Equal(t, 0, d.calls, "providers after the first hit are not called")
}

func TestOracle_PanicIsContained(t *testing.T) {
	a := &stubProvider{name: "a", panic: true}
	b := &stubProvider{name: "b", price: 2}

	price, ok := NewOracle(time.Second, a, b).GetPrice(context.Background(), "mint")
	assert.True(t, ok)
	assert.Equal(t, 2.0, price)
}

func TestOracle_AllFail(t *testing.T) {
	o := NewOracle(time.Second, &stubProvider{name: "a", price: -1}, &stubProvider{name: "b", err: errors.New("x")})
	_, ok := o.GetPrice(context.Background(), "mint")
	assert.False(t, ok)
}

func TestDexScreener(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tokens/MintX", r.URL.Path)
		fmt.Fprint(w, `{"pairs":[{"priceUsd":"0.000062"},{"priceUsd":"9"}]}`)
	}))
	defer ts.Close()

	p := &DexScreener{BaseURL: ts.URL + "/tokens/"}
	v, err := p.Price(context.Background(), "MintX")
	assert.NoError(t, err)
	assert.InDelta(t, 0.000062, v, 1e-12)
}

func TestDexScreener_NoPairs(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"pairs":null}`)
	}))
	defer ts.Close()

	_, err := (&DexScreener{BaseURL: ts.URL}).Price(context.Background(), "MintX")
	assert.ErrorIs(t, err, errNoPrice)
}

func TestJupiterPrice(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "MintX", r.URL.Query().Get("ids"))
		fmt.Fprint(w, `{"data":{"MintX":{"id":"MintX","price":"0.5"}}}`)
	}))
	defer ts.Close()

	v, err := (&JupiterPrice{BaseURL: ts.URL}).Price(context.Background(), "MintX")
	assert.NoError(t, err)
	assert.Equal(t, 0.5, v)
}

func TestBirdeye(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "MintX", r.URL.Query().Get("address"))
		fmt.Fprint(w, `{"success":true,"data":{"value":0.25}}`)
	}))
	defer ts.Close()

	v, err := (&Birdeye{BaseURL: ts.URL, APIKey: "secret"}).Price(context.Background(), "MintX")
	assert.NoError(t, err)
	assert.Equal(t, 0.25, v)

	_, err = (&Birdeye{BaseURL: ts.URL}).Price(context.Background(), "MintX")
	assert.Error(t, err, "no key, no call")
}

func TestNewProviders_Order(t *testing.T) {
	ps := NewProviders(Settings{Order: []string{"dexscreener", "bogus", "Jupiter"}})
	names := NewOracle(0, ps...).Providers()
	assert.Equal(t, []string{"dexscreener", "jupiter"}, names)
}
