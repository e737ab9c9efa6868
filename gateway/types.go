package gateway

import (
	"encoding/json"
	"strconv"
)

// stringFloat decodes the API's string-encoded decimals ("2501.5") and
// tolerates plain JSON numbers.
type stringFloat float64

func (f *stringFloat) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = stringFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = stringFloat(v)
	return nil
}

// Position is one perp position inside a clearinghouse state. Szi is
// signed size: positive long, negative short.
type Position struct {
	Coin    string      `json:"coin"`
	Szi     stringFloat `json:"szi"`
	EntryPx stringFloat `json:"entryPx"`
}

// AssetPosition wraps a position the way clearinghouseState nests it.
type AssetPosition struct {
	Type     string   `json:"type"`
	Position Position `json:"position"`
}

// MarginSummary is the account-level margin snapshot.
type MarginSummary struct {
	AccountValue stringFloat `json:"accountValue"`
	TotalNtlPos  stringFloat `json:"totalNtlPos"`
}

// ClearinghouseState is the response to a clearinghouseState query.
type ClearinghouseState struct {
	AssetPositions []AssetPosition `json:"assetPositions"`
	MarginSummary  MarginSummary   `json:"marginSummary"`
}

// Asset is one entry of the perp universe.
type Asset struct {
	Name       string `json:"name"`
	SzDecimals int    `json:"szDecimals"`
}

// Meta describes the perp universe.
type Meta struct {
	Universe []Asset `json:"universe"`
}

// AssetCtx is the live context for one asset, parallel to Meta.Universe.
type AssetCtx struct {
	Funding      stringFloat `json:"funding"`
	OpenInterest stringFloat `json:"openInterest"`
	MarkPx       stringFloat `json:"markPx"`
	MidPx        stringFloat `json:"midPx"`
}

// VaultDetails is a vault's public summary.
type VaultDetails struct {
	Name        string      `json:"name"`
	VaultAddr   string      `json:"vaultAddress"`
	Leader      string      `json:"leader"`
	Apr         stringFloat `json:"apr"`
	MaxWithdraw stringFloat `json:"maxWithdrawable"`
}

// FundingSample is one historical funding record.
type FundingSample struct {
	Coin    string      `json:"coin"`
	Rate    stringFloat `json:"fundingRate"`
	Premium stringFloat `json:"premium"`
	Time    int64       `json:"time"` // epoch millis
}
