package pocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/optionwire/optionwire/internal/session"
)

// Positional field indexes of one asset row in the updateAssets payload.
const (
	assetFieldID = iota
	assetFieldSymbol
	assetFieldName
	assetFieldType
	_
	assetFieldPayout
	_
	_
	_
	assetFieldOTC
	_
	_
	_
	_
	assetFieldValid
	assetFieldTimes
	assetRowMinFields = assetFieldTimes + 1
)

var assetTypes = map[string]session.AssetType{
	"stock":          session.AssetStock,
	"currency":       session.AssetCurrency,
	"commodity":      session.AssetCommodity,
	"cryptocurrency": session.AssetCryptocurrency,
	"index":          session.AssetIndex,
}

// ParseAssets decodes the positional updateAssets payload into the session
// asset map. Rows with an empty symbol, a non-positive id, or an unknown
// asset type are discarded; the second result counts them.
func ParseAssets(data []byte) (map[string]session.Asset, int, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, 0, fmt.Errorf("assets payload: %w", err)
	}

	assets := make(map[string]session.Asset, len(rows))
	skipped := 0
	for _, row := range rows {
		a, ok := parseAssetRow(row)
		if !ok {
			skipped++
			continue
		}
		assets[a.Symbol] = a
	}
	return assets, skipped, nil
}

func parseAssetRow(row []json.RawMessage) (session.Asset, bool) {
	if len(row) < assetRowMinFields {
		return session.Asset{}, false
	}

	var (
		id       int
		symbol   string
		name     string
		typeName string
		payout   int
		otc      int
		valid    bool
		times    []struct {
			Time int64 `json:"time"`
		}
	)
	if json.Unmarshal(row[assetFieldID], &id) != nil ||
		json.Unmarshal(row[assetFieldSymbol], &symbol) != nil ||
		json.Unmarshal(row[assetFieldName], &name) != nil ||
		json.Unmarshal(row[assetFieldType], &typeName) != nil ||
		json.Unmarshal(row[assetFieldPayout], &payout) != nil ||
		json.Unmarshal(row[assetFieldOTC], &otc) != nil ||
		json.Unmarshal(row[assetFieldValid], &valid) != nil ||
		json.Unmarshal(row[assetFieldTimes], &times) != nil {
		return session.Asset{}, false
	}

	if symbol == "" || id <= 0 {
		return session.Asset{}, false
	}
	assetType, known := assetTypes[typeName]
	if !known {
		return session.Asset{}, false
	}

	durations := make([]time.Duration, 0, len(times))
	for _, t := range times {
		durations = append(durations, time.Duration(t.Time)*time.Second)
	}

	return session.Asset{
		ID:               id,
		Symbol:           symbol,
		Name:             name,
		Type:             assetType,
		OTC:              otc == 1,
		Active:           valid,
		Payout:           payout,
		AllowedDurations: durations,
	}, true
}
