package gateway

import (
	"context"

	"hyperliquid-signals-go/funding"
)

// Positions returns one account's signed position sizes by coin.
// Satisfies the whale tracker's position source.
func (c *RESTClient) Positions(ctx context.Context, account string) (map[string]float64, error) {
	state, err := c.ClearinghouseState(ctx, account)
	if err != nil {
		return nil, err
	}
	positions := make(map[string]float64, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		if ap.Position.Coin == "" {
			continue
		}
		positions[ap.Position.Coin] = float64(ap.Position.Szi)
	}
	return positions, nil
}

// AssetContexts returns the funding rate and open interest per coin.
// Satisfies the funding detector's source. Contexts line up with the
// universe by index; a short context list truncates.
func (c *RESTClient) AssetContexts(ctx context.Context) (map[string]funding.Context, error) {
	meta, ctxs, err := c.MetaAndAssetCtxs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]funding.Context, len(ctxs))
	for i, assetCtx := range ctxs {
		if i >= len(meta.Universe) {
			break
		}
		name := meta.Universe[i].Name
		if name == "" {
			continue
		}
		out[name] = funding.Context{
			FundingRate:  float64(assetCtx.Funding),
			OpenInterest: float64(assetCtx.OpenInterest),
		}
	}
	return out, nil
}

// VaultAdapter reads one vault's positions through the clearinghouse.
// Satisfies the vault sentiment source.
type VaultAdapter struct {
	Client  *RESTClient
	Address string
}

// VaultPositions returns the vault's signed position sizes by coin.
func (v *VaultAdapter) VaultPositions(ctx context.Context) (map[string]float64, error) {
	return v.Client.Positions(ctx, v.Address)
}

// Mids returns the current mid price per coin.
func (v *VaultAdapter) Mids(ctx context.Context) (map[string]float64, error) {
	return v.Client.AllMids(ctx)
}
