package memstore_test

import (
	"testing"

	"github.com/raulk/clock"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/memstore"
	"github.com/filecoin-project/go-dataspace/contractnegotiation/storetest"
)

func TestMemStore(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T, clk clock.Clock) cn.Store {
		return memstore.New(memstore.WithClock(clk), memstore.WithLeaseDuration(storetest.LeaseDuration))
	})
}
