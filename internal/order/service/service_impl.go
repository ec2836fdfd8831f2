package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bloxmart/bloxmart/internal/config"
	gatewaydomain "github.com/bloxmart/bloxmart/internal/gateway/domain"
	"github.com/bloxmart/bloxmart/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// marketplaceCut is the share of a listed price kept by the marketplace; the
// seller nets the remaining 70%.
const marketplaceCut = 0.30

var (
	gamePassPattern = regexp.MustCompile(`/game-pass/(\d+)`)
	catalogPattern  = regexp.MustCompile(`/catalog/(\d+)`)
	libraryPattern  = regexp.MustCompile(`/library/(\d+)`)

	// Legacy capture descriptions: "<amount> Robux for <username>".
	legacyDescription = regexp.MustCompile(`(\d+) Robux for (\w+)`)
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Resolver domain.UserResolver `optional:"true"`
}

// Service reconstructs orders from authenticated payment notices.
type Service struct {
	log      *zap.Logger
	cfg      config.Config
	resolver domain.UserResolver
}

func NewService(p Params) *Service {
	return &Service{
		log:      p.Log.Named("order.decoder"),
		cfg:      p.Cfg,
		resolver: p.Resolver,
	}
}

func (s *Service) Decode(ctx context.Context, notice *gatewaydomain.Notice) (*domain.Order, error) {
	if notice == nil {
		return nil, domain.ErrMalformedMetadata
	}
	if len(notice.Metadata) == 0 {
		return s.decodeLegacyDescription(ctx, notice.Description)
	}

	buyer := strings.TrimSpace(notice.Metadata["username"])
	if buyer == "" {
		return nil, domain.ErrMissingBuyer
	}

	amount, err := parsePositiveInt(notice.Metadata["amount"])
	if err != nil {
		return nil, domain.ErrInvalidAmount
	}
	if amount < s.cfg.MinOrderAmount {
		return nil, domain.ErrAmountBelowMin
	}

	order := &domain.Order{
		Buyer:  buyer,
		Amount: amount,
	}
	if raw := strings.TrimSpace(notice.Metadata["user_id"]); raw != "" {
		buyerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, domain.ErrMalformedMetadata
		}
		order.BuyerID = buyerID
	}

	switch domain.Kind(strings.ToLower(strings.TrimSpace(notice.Metadata["kind"]))) {
	case domain.KindPayout:
		order.Kind = domain.KindPayout
		return s.decodePayout(order)
	case domain.KindPurchase:
		order.Kind = domain.KindPurchase
		return s.decodePurchase(order, notice.Metadata)
	default:
		return nil, domain.ErrUnknownKind
	}
}

func (s *Service) decodePayout(order *domain.Order) (*domain.Order, error) {
	// The recipient was resolved when the order was created; the metadata is
	// authoritative.
	if order.BuyerID == 0 {
		return nil, domain.ErrMissingRecipient
	}
	order.RecipientID = order.BuyerID
	return order, nil
}

func (s *Service) decodePurchase(order *domain.Order, metadata map[string]string) (*domain.Order, error) {
	link := strings.TrimSpace(metadata["item_link"])
	if link == "" {
		return nil, domain.ErrMissingItem
	}

	itemID, err := parsePositiveInt(metadata["item_id"])
	if err != nil {
		return nil, domain.ErrMissingItem
	}
	productID, err := parsePositiveInt(metadata["product_id"])
	if err != nil {
		return nil, domain.ErrMissingItem
	}
	itemPrice, err := parsePositiveInt(metadata["item_price"])
	if err != nil {
		return nil, domain.ErrMissingItem
	}
	itemType := domain.ItemType(strings.ToLower(strings.TrimSpace(metadata["item_type"])))

	// Re-derive the identifier and type from the stored link with the same
	// classification used at verification time; a mismatch is a decode
	// failure, never a silent fallback.
	linkID, linkType, err := classifyLink(link)
	if err != nil {
		return nil, err
	}
	if linkID != itemID || linkType != itemType {
		return nil, domain.ErrLinkMismatch
	}

	required := requiredPrice(order.Amount)
	switch s.cfg.PricePolicy {
	case config.PricePolicyAtLeast:
		if itemPrice < required {
			return nil, fmt.Errorf("%w: listed %d, need at least %d", domain.ErrPriceMismatch, itemPrice, required)
		}
	default:
		if itemPrice != required {
			return nil, fmt.Errorf("%w: listed %d, need %d", domain.ErrPriceMismatch, itemPrice, required)
		}
	}

	order.ProductID = productID
	order.ItemID = itemID
	order.ItemType = itemType
	order.ItemPrice = itemPrice
	return order, nil
}

func (s *Service) decodeLegacyDescription(ctx context.Context, description string) (*domain.Order, error) {
	match := legacyDescription.FindStringSubmatch(strings.TrimSpace(description))
	if match == nil {
		return nil, domain.ErrMalformedMetadata
	}

	amount, err := parsePositiveInt(match[1])
	if err != nil {
		return nil, domain.ErrInvalidAmount
	}
	if amount < s.cfg.MinOrderAmount {
		return nil, domain.ErrAmountBelowMin
	}

	buyer := match[2]
	if s.resolver == nil {
		return nil, domain.ErrMissingRecipient
	}
	buyerID, err := s.resolver.ResolveUser(ctx, buyer)
	if err != nil {
		return nil, domain.ErrMissingRecipient
	}

	return &domain.Order{
		Buyer:       buyer,
		BuyerID:     buyerID,
		Amount:      amount,
		Kind:        domain.KindPayout,
		RecipientID: buyerID,
	}, nil
}

// requiredPrice is the listed price needed so the seller nets amount after
// the marketplace cut, rounded up.
func requiredPrice(amount int64) int64 {
	net := 1 - marketplaceCut
	required := float64(amount) / net
	rounded := int64(required)
	if float64(rounded) < required {
		rounded++
	}
	return rounded
}

func classifyLink(link string) (int64, domain.ItemType, error) {
	if match := gamePassPattern.FindStringSubmatch(link); match != nil {
		id, _ := strconv.ParseInt(match[1], 10, 64)
		return id, domain.ItemTypeGamePass, nil
	}
	if match := catalogPattern.FindStringSubmatch(link); match != nil {
		id, _ := strconv.ParseInt(match[1], 10, 64)
		return id, domain.ItemTypeCatalog, nil
	}
	if match := libraryPattern.FindStringSubmatch(link); match != nil {
		id, _ := strconv.ParseInt(match[1], 10, 64)
		return id, domain.ItemTypeLibrary, nil
	}
	return 0, "", domain.ErrUnclassifiedLink
}

func parsePositiveInt(raw string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("non-positive value %d", parsed)
	}
	return parsed, nil
}
