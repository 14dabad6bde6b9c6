// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"context"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/omnivault/config"
	"github.com/luxfi/omnivault/transport"
	"github.com/luxfi/omnivault/transport/wstransport"
	"github.com/luxfi/omnivault/types"
	"github.com/luxfi/omnivault/utils/timer/mockable"
)

func TestInboxUnbound(t *testing.T) {
	var inbox Inbox
	require.ErrorIs(t, inbox.Receive(context.Background(), &transport.Packet{}), ErrNotBound)
}

func TestReportOverRelay(t *testing.T) {
	ctx := context.Background()
	relay := wstransport.NewRelay(nil)
	srv := httptest.NewServer(relay)
	t.Cleanup(func() {
		relay.Close()
		srv.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	clock := &mockable.Clock{}
	clock.Set(time.Unix(1_000, 0))
	withRelay := func(cfg config.Config) config.Config {
		cfg.Transport.RelayURL = url
		cfg.Transport.BaseFee = fee.String()
		cfg.Transport.PerByteFee = "0"
		return cfg
	}
	connect := func(cfg config.Config) (*wstransport.Client, *Inbox) {
		client, inbox, err := Dial(ctx, cfg, nil)
		require.NoError(t, err)
		t.Cleanup(func() { client.Close() })
		return client, inbox
	}

	homeCfg := withRelay(homeConfig())
	homeClient, homeInbox := connect(homeCfg)
	home, err := NewHome(homeCfg, Deps{DB: memdb.New(), Transport: homeClient, Clock: clock, Log: log.NewNoOpLogger()})
	require.NoError(t, err)
	homeInbox.Bind(home.Adapter)

	remoteCfg := withRelay(remoteConfig(chainA))
	remoteClient, remoteInbox := connect(remoteCfg)
	remote, err := NewRemote(remoteCfg, Deps{DB: memdb.New(), Transport: remoteClient, Clock: clock, Log: log.NewNoOpLogger()})
	require.NoError(t, err)
	remoteInbox.Bind(remote.Adapter)

	require.Eventually(t, func() bool {
		return relay.Connected(types.EID(eid(homeChainID))) && relay.Connected(types.EID(eid(chainA)))
	}, 5*time.Second, 10*time.Millisecond)

	deposit(t, remote, alice, 500)
	_, err = remote.Report(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap := home.Ledger.Get(types.ChainID(chainA))
		return !snap.IsZero() && snap.ShareSupply.Cmp(big.NewInt(500)) == 0
	}, 5*time.Second, 10*time.Millisecond)
}
