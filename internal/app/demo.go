package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"

	"nftmarket/internal/domain"
	"nftmarket/internal/engine"
	"nftmarket/internal/event"
	"nftmarket/internal/infra"
	"nftmarket/internal/infra/chain"
	"nftmarket/internal/market"

	"github.com/ethereum/go-ethereum/common"
)

var (
	demoCollection = common.HexToAddress("0x00000000000000000000000000000000000C0113")
	demoOwner      = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	demoBuyer      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// RunDemo walks an owner and a buyer through listing, purchase and
// withdrawal on an in-memory chain, writing each step to out. It fails on
// the first outcome that differs from the expected one.
func RunDemo(ctx context.Context, cfg *infra.Config, out io.Writer) error {
	fee, err := cfg.ListingFeeWei()
	if err != nil {
		return err
	}
	marketAddr := cfg.MarketAddress()

	registry := chain.NewRegistry()
	bank := chain.NewBank()
	m := market.NewMarketplace(market.Config{Address: marketAddr, ListingFee: fee}, registry, bank)
	m.Subscribe(event.SinkFunc(func(ev event.Event) {
		fmt.Fprintf(out, "    event #%d %s\n", ev.GetSeq(), ev.GetType())
	}))

	seq := engine.NewSequencer(16, m, nil, nil)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go seq.Run(runCtx)

	token0 := big.NewInt(0)
	if err := registry.Mint(demoCollection, demoOwner, token0); err != nil {
		return err
	}
	if err := registry.Approve(demoOwner, demoCollection, marketAddr, token0); err != nil {
		return err
	}
	fmt.Fprintf(out, "marketplace %s, listing fee %s ether\n", marketAddr.Hex(), infra.FormatEther(fee))

	steps := []struct {
		name string
		cmd  *engine.Command
		want domain.ErrorKind
	}{
		{"list token 0 at price 0", engine.NewList(demoOwner, fee, demoCollection, token0, big.NewInt(0)), domain.KindPriceMustBeAboveOrEqualZero},
		{"list token 0 at price 1", engine.NewList(demoOwner, fee, demoCollection, token0, big.NewInt(1)), ""},
		{"list token 0 again", engine.NewList(demoOwner, fee, demoCollection, token0, big.NewInt(2)), domain.KindAlreadyListed},
		{"buy token 0 paying 1", engine.NewBuy(demoBuyer, big.NewInt(1), demoCollection, token0), ""},
		{"buy token 99", engine.NewBuy(demoBuyer, big.NewInt(1), demoCollection, big.NewInt(99)), domain.KindNotListed},
		{"withdraw proceeds", engine.NewWithdraw(demoOwner), ""},
		{"withdraw proceeds again", engine.NewWithdraw(demoOwner), domain.KindZeroBalance},
	}

	for _, step := range steps {
		err := seq.Submit(ctx, step.cmd)
		got := domain.KindOf(err)
		if err != nil && got == "" {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		if got != step.want {
			return fmt.Errorf("%s: got %q, want %q", step.name, got, step.want)
		}

		outcome := "ok"
		if err != nil {
			outcome = "rejected: " + string(got)
		}
		fmt.Fprintf(out, "[%d] %s: %s\n", step.cmd.Seq, step.name, outcome)
	}

	owner, err := registry.OwnerOf(ctx, demoCollection, token0)
	if err != nil {
		return err
	}
	if owner != demoBuyer {
		return errors.New("token 0 was not transferred to the buyer")
	}

	var reserve *big.Int
	if err := seq.Read(ctx, func(m *market.Marketplace) {
		m.VerifyInvariant()
		reserve = m.FeeReserve()
	}); err != nil {
		return err
	}

	fmt.Fprintf(out, "owner of token 0: %s\n", owner.Hex())
	fmt.Fprintf(out, "seller received: %s wei\n", bank.BalanceOf(demoOwner))
	fmt.Fprintf(out, "fee reserve: %s ether\n", infra.FormatEther(reserve))
	return nil
}
