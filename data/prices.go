// Copyright 2021-2023
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package data

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	df "github.com/rocketlaunchr/dataframe-go"
	imports "github.com/rocketlaunchr/dataframe-go/imports"
	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-optimal/common"
	"github.com/penny-vault/pv-optimal/dataframe"
)

var missingTokens = map[string]bool{
	"":     true,
	"na":   true,
	"nan":  true,
	"null": true,
	"n/a":  true,
}

// table is a string view over a csv file loaded by dataframe-go
type table struct {
	names []string
	cols  [][]string
}

func readTable(ctx context.Context, r io.ReadSeeker) (*table, error) {
	nilValue := ""
	res, err := imports.LoadFromCSV(ctx, r, imports.CSVLoadOptions{
		TrimLeadingSpace: true,
		NilValue:         &nilValue,
	})
	if err != nil {
		return nil, err
	}

	tbl := &table{
		names: make([]string, len(res.Series)),
		cols:  make([][]string, len(res.Series)),
	}
	nrows := res.NRows(df.Options{})
	for colIdx, series := range res.Series {
		tbl.names[colIdx] = strings.TrimSpace(series.Name(df.Options{}))
		col := make([]string, nrows)
		for rowIdx := 0; rowIdx < nrows; rowIdx++ {
			val := series.Value(rowIdx, df.Options{})
			if val == nil {
				continue
			}
			col[rowIdx] = strings.TrimSpace(fmt.Sprintf("%v", val))
		}
		tbl.cols[colIdx] = col
	}
	return tbl, nil
}

func (tbl *table) colIndex(names ...string) int {
	for idx, name := range tbl.names {
		for _, candidate := range names {
			if strings.EqualFold(name, candidate) {
				return idx
			}
		}
	}
	return -1
}

func parsePrice(s string) (float64, error) {
	if missingTokens[strings.ToLower(s)] {
		return math.NaN(), nil
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	return val, nil
}

// LoadPrices reads a csv price history. Two layouts are supported:
//
//	wide: DATE,SPY,TLT,...   one row per date, one column per asset
//	long: DATE,ASSET,PRICE   one row per asset per date
//
// Missing cells (empty, NA, NaN, null) become NaN. The returned dataframe is
// sorted by date and validated.
func LoadPrices(ctx context.Context, r io.ReadSeeker) (*dataframe.DataFrame, error) {
	tbl, err := readTable(ctx, r)
	if err != nil {
		log.Error().Err(err).Msg("could not read price csv")
		return nil, err
	}

	dateIdx := tbl.colIndex(common.DateIdx)
	if dateIdx == -1 {
		return nil, ErrNoDateColumn
	}

	assetIdx := tbl.colIndex(common.AssetName, "TICKER", "SYMBOL")
	priceIdx := tbl.colIndex(common.PriceName, "CLOSE", "ADJ_CLOSE", "ADJUSTED_CLOSE")

	var prices *dataframe.DataFrame
	if assetIdx != -1 && priceIdx != -1 && len(tbl.names) == 3 {
		prices, err = tbl.long(dateIdx, assetIdx, priceIdx)
	} else {
		prices, err = tbl.wide(dateIdx)
	}
	if err != nil {
		return nil, err
	}

	if err := prices.Validate(); err != nil {
		return nil, err
	}

	log.Debug().Int("NumAssets", prices.ColCount()).Int("NumRows", prices.Len()).Time("Start", prices.Start()).Time("End", prices.End()).Msg("loaded prices")
	return prices, nil
}

func (tbl *table) dates(dateIdx int) ([]time.Time, error) {
	dates := make([]time.Time, len(tbl.cols[dateIdx]))
	for rowIdx, s := range tbl.cols[dateIdx] {
		dt, err := common.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %q", ErrInvalidDate, rowIdx+2, s)
		}
		dates[rowIdx] = dt
	}
	return dates, nil
}

func (tbl *table) wide(dateIdx int) (*dataframe.DataFrame, error) {
	if len(tbl.names) < 2 {
		return nil, ErrNoAssets
	}

	dates, err := tbl.dates(dateIdx)
	if err != nil {
		return nil, err
	}

	order := make([]int, len(dates))
	for ii := range order {
		order[ii] = ii
	}
	sort.SliceStable(order, func(i, j int) bool { return dates[order[i]].Before(dates[order[j]]) })

	prices := &dataframe.DataFrame{
		Dates:    make([]time.Time, len(dates)),
		ColNames: make([]string, 0, len(tbl.names)-1),
		Vals:     make([][]float64, 0, len(tbl.names)-1),
	}
	for ii, rowIdx := range order {
		if ii > 0 && dates[rowIdx].Equal(prices.Dates[ii-1]) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDate, dates[rowIdx].Format(common.DateFormat))
		}
		prices.Dates[ii] = dates[rowIdx]
	}

	seen := make(map[string]bool, len(tbl.names))
	for colIdx, name := range tbl.names {
		if colIdx == dateIdx {
			continue
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAsset, name)
		}
		seen[name] = true

		col := make([]float64, len(dates))
		for ii, rowIdx := range order {
			val, err := parsePrice(tbl.cols[colIdx][rowIdx])
			if err != nil {
				return nil, fmt.Errorf("%s on %s: %w", name, dates[rowIdx].Format(common.DateFormat), err)
			}
			col[ii] = val
		}
		prices.ColNames = append(prices.ColNames, name)
		prices.Vals = append(prices.Vals, col)
	}

	return prices, nil
}

func (tbl *table) long(dateIdx, assetIdx, priceIdx int) (*dataframe.DataFrame, error) {
	dates, err := tbl.dates(dateIdx)
	if err != nil {
		return nil, err
	}

	assetOrder := make([]string, 0)
	perAsset := make(map[string]map[int64]float64)
	perAssetDates := make(map[string][]time.Time)
	for rowIdx, asset := range tbl.cols[assetIdx] {
		if asset == "" {
			continue
		}
		val, err := parsePrice(tbl.cols[priceIdx][rowIdx])
		if err != nil {
			return nil, fmt.Errorf("%s on %s: %w", asset, dates[rowIdx].Format(common.DateFormat), err)
		}
		series, ok := perAsset[asset]
		if !ok {
			series = make(map[int64]float64)
			perAsset[asset] = series
			assetOrder = append(assetOrder, asset)
		}
		key := dates[rowIdx].UnixNano()
		if _, dup := series[key]; dup {
			return nil, fmt.Errorf("%w: %s %s", ErrDuplicateDate, asset, dates[rowIdx].Format(common.DateFormat))
		}
		series[key] = val
		perAssetDates[asset] = append(perAssetDates[asset], dates[rowIdx])
	}

	if len(assetOrder) == 0 {
		return nil, ErrNoAssets
	}

	dfMap := make(dataframe.DataFrameMap, len(assetOrder))
	for _, asset := range assetOrder {
		assetDates := perAssetDates[asset]
		sort.Slice(assetDates, func(i, j int) bool { return assetDates[i].Before(assetDates[j]) })
		vals := make([]float64, len(assetDates))
		for ii, dt := range assetDates {
			vals[ii] = perAsset[asset][dt.UnixNano()]
		}
		dfMap[asset] = &dataframe.DataFrame{
			Dates:    assetDates,
			ColNames: []string{asset},
			Vals:     [][]float64{vals},
		}
	}

	return dfMap.DataFrame(assetOrder...), nil
}

// LoadGroups reads a csv with ASSET and GROUP columns and returns the
// asset to group mapping
func LoadGroups(ctx context.Context, r io.ReadSeeker) (map[string]string, error) {
	tbl, err := readTable(ctx, r)
	if err != nil {
		log.Error().Err(err).Msg("could not read group csv")
		return nil, err
	}

	assetIdx := tbl.colIndex(common.AssetName, "TICKER", "SYMBOL")
	groupIdx := tbl.colIndex(common.GroupName, "CATEGORY", "SECTOR")
	if assetIdx == -1 || groupIdx == -1 {
		return nil, ErrMalformedGroups
	}

	groups := make(map[string]string, len(tbl.cols[assetIdx]))
	for rowIdx, asset := range tbl.cols[assetIdx] {
		if asset == "" {
			continue
		}
		if _, ok := groups[asset]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAsset, asset)
		}
		groups[asset] = tbl.cols[groupIdx][rowIdx]
	}

	return groups, nil
}
