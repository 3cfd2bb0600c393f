// Package asset defines the asset variants held by the in-memory database,
// their 32-bit identifiers and the per-generation Registry indexing them.
package asset

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is the kind of an asset. It occupies the top 5 bits of an ID.
type Type uint8

const (
	TypeUnknown           Type = 0
	TypeCurrencyCash      Type = 1
	TypeCurrencyPair      Type = 2
	TypeStock             Type = 3
	TypeBond              Type = 4
	TypeFund              Type = 5
	TypeFutures           Type = 6
	TypeOption            Type = 7
	TypeCommodity         Type = 8
	TypeRealEstate        Type = 9
	TypeFinIndex          Type = 10
	TypeBrokerNAV         Type = 11
	TypePortfolio         Type = 12
	TypeGeneralTimeSeries Type = 13
	TypeCompany           Type = 14
)

// codes are the one letter prefixes used in tickers, e.g. "S/SPY".
var codes = map[Type]byte{
	TypeCurrencyCash:      'C',
	TypeCurrencyPair:      'D',
	TypeStock:             'S',
	TypeBond:              'B',
	TypeFund:              'U',
	TypeFutures:           'F',
	TypeOption:            'O',
	TypeCommodity:         'M',
	TypeRealEstate:        'R',
	TypeFinIndex:          'I',
	TypeBrokerNAV:         'N',
	TypePortfolio:         'P',
	TypeGeneralTimeSeries: 'T',
	TypeCompany:           'A',
}

// Code returns the ticker prefix letter of t, or '?' if t has none.
func (t Type) Code() byte {
	if c, ok := codes[t]; ok {
		return c
	}
	return '?'
}

// TypeOfCode is the reverse of Type.Code.
func TypeOfCode(c byte) (Type, bool) {
	for t, code := range codes {
		if code == c {
			return t, true
		}
	}
	return TypeUnknown, false
}

func (t Type) String() string {
	switch t {
	case TypeCurrencyCash:
		return "CurrencyCash"
	case TypeCurrencyPair:
		return "CurrencyPair"
	case TypeStock:
		return "Stock"
	case TypeBond:
		return "Bond"
	case TypeFund:
		return "Fund"
	case TypeFutures:
		return "Futures"
	case TypeOption:
		return "Option"
	case TypeCommodity:
		return "Commodity"
	case TypeRealEstate:
		return "RealEstate"
	case TypeFinIndex:
		return "FinIndex"
	case TypeBrokerNAV:
		return "BrokerNAV"
	case TypePortfolio:
		return "Portfolio"
	case TypeGeneralTimeSeries:
		return "GeneralTimeSeries"
	case TypeCompany:
		return "Company"
	}
	return "Unknown"
}

const (
	subBits = 27
	subMask = 1<<subBits - 1
	// MaxSubTableID is the largest SubTableID an ID can hold.
	MaxSubTableID = subMask
)

// ID packs a Type and a SubTableID into 32 bits: type<<27 | sub.
type ID uint32

// Invalid is the zero ID, never assigned to an asset.
const Invalid ID = 0

// NewID returns the ID of the sub-th asset of type t.
func NewID(t Type, sub uint32) ID { return ID(uint32(t)<<subBits | sub&subMask) }

// Type returns the asset type encoded in id.
func (id ID) Type() Type { return Type(uint32(id) >> subBits) }

// SubTableID returns the per-type index encoded in id.
func (id ID) SubTableID() uint32 { return uint32(id) & subMask }

// String formats id as "type:sub", e.g. "3:117".
func (id ID) String() string { return fmt.Sprintf("%d:%d", id.Type(), id.SubTableID()) }

// ParseID parses the "type:sub" format produced by ID.String.
func ParseID(s string) (ID, error) {
	ts, ss, ok := strings.Cut(s, ":")
	if !ok {
		return Invalid, fmt.Errorf("invalid asset id %q want format \"type:sub\"", s)
	}
	t, err := strconv.ParseUint(ts, 10, 5)
	if err != nil {
		return Invalid, fmt.Errorf("invalid asset type in %q: %w", s, err)
	}
	sub, err := strconv.ParseUint(ss, 10, subBits)
	if err != nil {
		return Invalid, fmt.Errorf("invalid sub-table id in %q: %w", s, err)
	}
	return NewID(Type(t), uint32(sub)), nil
}
