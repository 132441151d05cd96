package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/engsudal909/sapience-1-sub012/internal/domain"
)

// ABI schemas for the two resolver families. These are wire-format
// constants: the on-chain verifier unpacks the same tuple layouts.
var (
	binaryArgs = abi.Arguments{{Type: mustTupleArray(
		abi.ArgumentMarshaling{Name: "conditionId", Type: "bytes32"},
		abi.ArgumentMarshaling{Name: "prediction", Type: "bool"},
	)}}

	thresholdArgs = abi.Arguments{{Type: mustTupleArray(
		abi.ArgumentMarshaling{Name: "priceFeedId", Type: "bytes32"},
		abi.ArgumentMarshaling{Name: "endTime", Type: "uint64"},
		abi.ArgumentMarshaling{Name: "strikePrice", Type: "int64"},
		abi.ArgumentMarshaling{Name: "strikeExponent", Type: "int32"},
		abi.ArgumentMarshaling{Name: "tieBreakRule", Type: "bool"},
		abi.ArgumentMarshaling{Name: "prediction", Type: "bool"},
	)}}
)

func mustTupleArray(components ...abi.ArgumentMarshaling) abi.Type {
	t, err := abi.NewType("tuple[]", "", components)
	if err != nil {
		panic(err)
	}
	return t
}

// Tuple structs mirror the ABI components; field names must match the
// component names for pack/unpack.
type binaryTuple struct {
	ConditionId [32]byte
	Prediction  bool
}

type thresholdTuple struct {
	PriceFeedId    [32]byte
	EndTime        uint64
	StrikePrice    int64
	StrikeExponent int32
	TieBreakRule   bool
	Prediction     bool
}

// OutcomeCodec dispatches predicted-outcome payloads to the schema matching
// their resolver. Kind is decided by address-set membership, never by
// payload shape.
type OutcomeCodec struct {
	binary    map[string]struct{}
	threshold map[string]struct{}
}

// NewOutcomeCodec builds a codec from the two disjoint resolver-address
// sets. Addresses are matched case-insensitively.
func NewOutcomeCodec(binaryResolvers, thresholdResolvers []string) *OutcomeCodec {
	c := &OutcomeCodec{
		binary:    make(map[string]struct{}, len(binaryResolvers)),
		threshold: make(map[string]struct{}, len(thresholdResolvers)),
	}
	for _, addr := range binaryResolvers {
		c.binary[normalizeAddr(addr)] = struct{}{}
	}
	for _, addr := range thresholdResolvers {
		c.threshold[normalizeAddr(addr)] = struct{}{}
	}
	return c
}

func normalizeAddr(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// KindFor maps a resolver address to its outcome schema. Unrecognized or
// absent resolvers default to the binary-condition schema, the common case.
func (c *OutcomeCodec) KindFor(resolver string) domain.ResolverKind {
	if _, ok := c.threshold[normalizeAddr(resolver)]; ok {
		return domain.ResolverKindThreshold
	}
	return domain.ResolverKindBinary
}

// Encode serializes an outcome set into its 0x hex ABI form. Consumers must
// treat the blob as opaque beyond Decode.
func (c *OutcomeCodec) Encode(set domain.OutcomeSet) (string, error) {
	switch set.Kind {
	case domain.ResolverKindThreshold:
		tuples := make([]thresholdTuple, len(set.Threshold))
		for i, o := range set.Threshold {
			tuples[i] = thresholdTuple{
				PriceFeedId:    o.PriceFeedID,
				EndTime:        o.EndTime,
				StrikePrice:    o.StrikePrice,
				StrikeExponent: o.StrikeExponent,
				TieBreakRule:   o.TieBreakRule,
				Prediction:     o.Prediction,
			}
		}
		packed, err := thresholdArgs.Pack(tuples)
		if err != nil {
			return "", fmt.Errorf("codec: pack threshold outcomes: %w", err)
		}
		return hexutil.Encode(packed), nil
	case domain.ResolverKindBinary:
		tuples := make([]binaryTuple, len(set.Binary))
		for i, o := range set.Binary {
			tuples[i] = binaryTuple{ConditionId: o.ConditionID, Prediction: o.Prediction}
		}
		packed, err := binaryArgs.Pack(tuples)
		if err != nil {
			return "", fmt.Errorf("codec: pack binary outcomes: %w", err)
		}
		return hexutil.Encode(packed), nil
	default:
		return "", fmt.Errorf("codec: cannot encode outcome kind %q", set.Kind)
	}
}

// Decode recovers the typed outcome set from a predicted-outcomes array.
// Only the first blob is decoded; producers must aggregate multi-leg
// predictions into a single blob before encoding. Malformed input degrades
// to an unknown set with no outcomes; Decode never panics and never returns
// an error across the codec boundary.
func (c *OutcomeCodec) Decode(resolver string, blobs []string) domain.OutcomeSet {
	unknown := domain.OutcomeSet{Kind: domain.ResolverKindUnknown}
	if len(blobs) == 0 {
		return unknown
	}
	data, err := hexutil.Decode(blobs[0])
	if err != nil {
		return unknown
	}

	switch c.KindFor(resolver) {
	case domain.ResolverKindThreshold:
		values, err := thresholdArgs.Unpack(data)
		if err != nil || len(values) != 1 {
			return unknown
		}
		tuples, ok := convertTuples[[]thresholdTuple](values[0])
		if !ok {
			return unknown
		}
		set := domain.OutcomeSet{
			Kind:      domain.ResolverKindThreshold,
			Threshold: make([]domain.ThresholdOutcome, len(tuples)),
		}
		for i, t := range tuples {
			set.Threshold[i] = domain.ThresholdOutcome{
				PriceFeedID:    t.PriceFeedId,
				EndTime:        t.EndTime,
				StrikePrice:    t.StrikePrice,
				StrikeExponent: t.StrikeExponent,
				TieBreakRule:   t.TieBreakRule,
				Prediction:     t.Prediction,
			}
		}
		return set
	default:
		values, err := binaryArgs.Unpack(data)
		if err != nil || len(values) != 1 {
			return unknown
		}
		tuples, ok := convertTuples[[]binaryTuple](values[0])
		if !ok {
			return unknown
		}
		set := domain.OutcomeSet{
			Kind:   domain.ResolverKindBinary,
			Binary: make([]domain.BinaryOutcome, len(tuples)),
		}
		for i, t := range tuples {
			set.Binary[i] = domain.BinaryOutcome{ConditionID: t.ConditionId, Prediction: t.Prediction}
		}
		return set
	}
}

// convertTuples bridges the anonymous struct slices produced by abi.Unpack
// to our named tuple types, recovering from the panic ConvertType raises on
// layout mismatch.
func convertTuples[T any](v any) (out T, ok bool) {
	defer func() {
		if recover() != nil {
			var zero T
			out, ok = zero, false
		}
	}()
	out = *abi.ConvertType(v, new(T)).(*T)
	return out, true
}

// FormatPrice renders a scaled integer price with a decimal exponent as a
// canonical decimal string: zeros appended for exponent >= 0, a decimal
// point inserted |exponent| digits from the right for exponent < 0, with
// trailing zeros and a bare trailing point stripped. The sign never takes
// part in digit manipulation.
func FormatPrice(scaled int64, exponent int32) string {
	if scaled == 0 {
		return "0"
	}
	neg := scaled < 0
	digits := strconv.FormatInt(scaled, 10)
	if neg {
		digits = digits[1:]
	}

	var out string
	if exponent >= 0 {
		out = digits + strings.Repeat("0", int(exponent))
	} else {
		shift := int(-exponent)
		if len(digits) <= shift {
			digits = strings.Repeat("0", shift-len(digits)+1) + digits
		}
		out = digits[:len(digits)-shift] + "." + digits[len(digits)-shift:]
		out = strings.TrimRight(out, "0")
		out = strings.TrimSuffix(out, ".")
	}

	if neg && out != "0" {
		out = "-" + out
	}
	return out
}
