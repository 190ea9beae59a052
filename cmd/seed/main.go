// Command seed publishes a batch of synthetic change events to the local
// broker so the sync pipeline has something to chew on during development.
// Each run walks a small catalog through its lifecycle: every product is
// created, most receive price, stock, and rating changes, and a couple are
// deleted again at the end. Every envelope of a run carries the same
// correlation ID so the run can be traced end to end.
//
// With SEED_CHAOS=true the run also replays a few envelopes verbatim and
// publishes one stale update per partial-update domain. Those must surface
// as skipped_duplicate and skipped_stale outcomes, never as index writes.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/searchsync/internal/domain"
	"github.com/utafrali/searchsync/internal/event"
	"github.com/utafrali/searchsync/pkg/kafka"
	"github.com/utafrali/searchsync/pkg/logger"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-':
			b.WriteByte('-')
		}
	}
	return b.String()
}

// --------------------------------------------------------------------------
// Seed data definitions
// --------------------------------------------------------------------------

type categoryDef struct {
	id   string
	name string
	path []string
}

type brandDef struct {
	id   string
	name string
}

type productDef struct {
	name        string
	description string
	category    string
	brand       string
	basePrice   int64 // cents
	tags        []string
}

// seededProduct tracks the entity-level version counter across phases. The
// counter is shared by all producing domains, so every later event bumps it.
type seededProduct struct {
	id      string
	version int64
	def     productDef
}

// sentEvent retains a published envelope so chaos mode can replay it
// byte for byte on the same topic and key.
type sentEvent struct {
	env *kafka.Event
	typ domain.EventType
	key string
}

// --------------------------------------------------------------------------
// Publisher
// --------------------------------------------------------------------------

type publisher struct {
	producer *kafka.Producer
	runID    string
	tally    map[string]int

	// retain keeps published envelopes for chaos replay; off for plain
	// runs so volume seeds do not hold every payload in memory.
	retain bool
	sent   []sentEvent
}

// publish wraps the payload in a fresh envelope and sends it on the topic
// owned by the event type's producing domain. The entity ID is the
// partition key so a product's events stay on one partition.
func (p *publisher) publish(ctx context.Context, typ domain.EventType, key string, payload any) error {
	source, _, _ := strings.Cut(string(typ), ".")

	env, err := kafka.NewEvent(string(typ), source, payload)
	if err != nil {
		return fmt.Errorf("build %s envelope: %w", typ, err)
	}
	env.WithCorrelationID(p.runID)

	if err := p.producer.Publish(ctx, event.TopicForType(typ), key, env); err != nil {
		return err
	}

	p.tally[string(typ)]++
	if p.retain {
		p.sent = append(p.sent, sentEvent{env: env, typ: typ, key: key})
	}
	return nil
}

// replay republishes an already-sent envelope unchanged. The consumer must
// recognize the duplicate by its event ID.
func (p *publisher) replay(ctx context.Context, s sentEvent) error {
	return p.producer.Publish(ctx, event.TopicForType(s.typ), s.key, s.env)
}

// --------------------------------------------------------------------------
// main
// --------------------------------------------------------------------------

func main() {
	log.SetFlags(log.Ltime | log.Lmsgprefix)
	log.SetPrefix("[seed] ")

	brokers := strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	chaos := getEnvBool("SEED_CHAOS", false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// ---------------------------------------------------------------
	// 1. Connect to Kafka
	// ---------------------------------------------------------------
	log.Printf("Pinging Kafka brokers %v ...", brokers)
	if err := kafka.PingBrokers(ctx, brokers); err != nil {
		log.Fatalf("kafka unreachable: %v", err)
	}
	log.Println("Kafka reachable.")

	producer := kafka.NewProducer(kafka.DefaultProducerConfig(brokers), logger.New("seed", "warn"))
	defer producer.Close()

	pub := &publisher{
		producer: producer,
		runID:    uuid.New().String(),
		tally:    make(map[string]int),
		retain:   chaos,
	}
	log.Printf("Run correlation ID: %s", pub.runID)

	// ---------------------------------------------------------------
	// 2. Publish product_created for the whole catalog
	// ---------------------------------------------------------------
	categories := []categoryDef{
		{id: "cat-electronics", name: "Electronics", path: []string{"Electronics"}},
		{id: "cat-clothing", name: "Clothing", path: []string{"Clothing"}},
		{id: "cat-home-kitchen", name: "Home & Kitchen", path: []string{"Home & Kitchen"}},
		{id: "cat-sports-outdoors", name: "Sports & Outdoors", path: []string{"Sports & Outdoors"}},
	}
	brands := []brandDef{
		{id: "brand-techbrand", name: "TechBrand"},
		{id: "brand-styleco", name: "StyleCo"},
		{id: "brand-homeessentials", name: "HomeEssentials"},
		{id: "brand-sportpro", name: "SportPro"},
	}

	products := []productDef{
		// Electronics
		{"Wireless Bluetooth Headphones", "Noise-cancelling over-ear headphones with 30-hour battery life.", "cat-electronics", "brand-techbrand", 7999, []string{"audio", "wireless"}},
		{"USB-C Hub Adapter", "7-in-1 USB-C hub with HDMI 4K output and 100W power delivery.", "cat-electronics", "brand-techbrand", 3499, []string{"accessories"}},
		{"Mechanical Keyboard", "RGB backlit mechanical keyboard with Cherry MX Blue switches.", "cat-electronics", "brand-techbrand", 8999, []string{"peripherals"}},
		{"Portable SSD 1TB", "External solid state drive with up to 1050MB/s read speed.", "cat-electronics", "brand-techbrand", 9999, []string{"storage"}},
		// Clothing
		{"Classic Cotton T-Shirt", "Everyday tee made from 100% organic cotton with a relaxed fit.", "cat-clothing", "brand-styleco", 2499, []string{"basics"}},
		{"Slim Fit Jeans", "Slim fit denim jeans with stretch technology and 5-pocket styling.", "cat-clothing", "brand-styleco", 4999, []string{"denim"}},
		{"Running Shoes", "Lightweight running shoes with responsive cushioning and mesh upper.", "cat-clothing", "brand-styleco", 8999, []string{"footwear", "sport"}},
		{"Rain Jacket", "Waterproof breathable jacket with sealed seams and adjustable hood.", "cat-clothing", "brand-styleco", 7999, []string{"outerwear"}},
		// Home & Kitchen
		{"Coffee Maker", "12-cup programmable drip brewer with built-in grinder.", "cat-home-kitchen", "brand-homeessentials", 4999, []string{"kitchen"}},
		{"Knife Set", "8-piece chef knife collection with forged stainless steel blades.", "cat-home-kitchen", "brand-homeessentials", 7999, []string{"kitchen"}},
		{"Cast Iron Skillet", "Pre-seasoned 12-inch cast iron skillet, oven safe to 500F.", "cat-home-kitchen", "brand-homeessentials", 3499, []string{"cookware"}},
		{"Ceramic Plate Set", "6-piece dinner plate set with reactive glaze finish.", "cat-home-kitchen", "brand-homeessentials", 3999, []string{"tableware"}},
		// Sports & Outdoors
		{"Yoga Mat Premium", "Non-slip 6mm exercise mat with alignment markings.", "cat-sports-outdoors", "brand-sportpro", 2999, []string{"fitness"}},
		{"Camping Tent 4-Person", "Waterproof family tent with instant setup and mesh panels.", "cat-sports-outdoors", "brand-sportpro", 19999, []string{"camping"}},
		{"Hiking Backpack 50L", "Adventure backpack with adjustable suspension and rain cover.", "cat-sports-outdoors", "brand-sportpro", 8999, []string{"hiking"}},
		{"Water Bottle Insulated", "Vacuum insulated bottle, cold 24 hours or hot 12 hours.", "cat-sports-outdoors", "brand-sportpro", 2499, []string{"hydration"}},
	}

	categoryMap := make(map[string]categoryDef, len(categories))
	for _, c := range categories {
		categoryMap[c.id] = c
	}
	brandMap := make(map[string]brandDef, len(brands))
	for _, b := range brands {
		brandMap[b.id] = b
	}

	// SEED_PRODUCTS above the catalog size cycles the definitions with a
	// numeric suffix, for volume runs against a real broker.
	count := getEnvInt("SEED_PRODUCTS", len(products))
	defs := products
	if count > len(products) {
		defs = make([]productDef, count)
		for i := range defs {
			d := products[i%len(products)]
			if i >= len(products) {
				d.name = fmt.Sprintf("%s %d", d.name, i/len(products)+1)
			}
			defs[i] = d
		}
	} else if count < len(products) {
		defs = products[:count]
	}

	log.Printf("Publishing %d product_created events...", len(defs))
	seeded := make([]*seededProduct, 0, len(defs))
	for _, def := range defs {
		sp := &seededProduct{id: uuid.New().String(), version: 1, def: def}

		cat := categoryMap[def.category]
		brand := brandMap[def.brand]
		slug := slugify(def.name)

		payload := domain.ProductPayload{
			ID:           sp.id,
			Version:      sp.version,
			Name:         def.name,
			Slug:         slug,
			Description:  def.description,
			BrandID:      brand.id,
			BrandName:    brand.name,
			CategoryID:   cat.id,
			CategoryName: cat.name,
			CategoryPath: cat.path,
			BasePrice:    def.basePrice,
			Currency:     "USD",
			InStock:      false,
			Quantity:     0,
			Tags:         def.tags,
			ImageURL:     fmt.Sprintf("https://picsum.photos/seed/%s/800/800", slug),
			Status:       "published",
			CreatedAt:    time.Now().UTC(),
		}
		if err := pub.publish(ctx, domain.EventProductCreated, sp.id, payload); err != nil {
			log.Printf("  WARNING: create %q: %v", def.name, err)
			continue
		}
		seeded = append(seeded, sp)
		if len(defs) <= 40 {
			log.Printf("  Product: %s (id=%s)", def.name, sp.id)
		}
	}
	log.Printf("  %d products published.", len(seeded))
	if len(seeded) == 0 {
		log.Fatal("no products published, aborting")
	}

	// ---------------------------------------------------------------
	// 3. Price changes for roughly two thirds of the catalog
	// ---------------------------------------------------------------
	log.Println("Publishing price_changed events...")
	for i, sp := range seeded {
		if i%3 == 2 {
			continue
		}
		sp.version++
		payload := domain.PricePayload{
			ID:        sp.id,
			Version:   sp.version,
			BasePrice: sp.def.basePrice,
			Currency:  "USD",
		}
		// Every other repriced product goes on sale.
		if i%2 == 0 {
			payload.SalePrice = sp.def.basePrice * int64(70+rand.Intn(25)) / 100
		}
		if err := pub.publish(ctx, domain.EventPriceChanged, sp.id, payload); err != nil {
			log.Printf("  WARNING: price for %q: %v", sp.def.name, err)
		}
	}

	// ---------------------------------------------------------------
	// 4. Stock changes for the whole catalog
	// ---------------------------------------------------------------
	log.Println("Publishing stock_changed events...")
	for i, sp := range seeded {
		sp.version++
		qty := 50 + rand.Intn(151)
		if i%5 == 4 {
			qty = 0 // a few products stay out of stock
		}
		payload := domain.StockPayload{
			ID:       sp.id,
			Version:  sp.version,
			InStock:  qty > 0,
			Quantity: qty,
		}
		if err := pub.publish(ctx, domain.EventStockChanged, sp.id, payload); err != nil {
			log.Printf("  WARNING: stock for %q: %v", sp.def.name, err)
		}
	}

	// ---------------------------------------------------------------
	// 5. Rating changes for roughly half the catalog
	// ---------------------------------------------------------------
	log.Println("Publishing rating_changed events...")
	for i, sp := range seeded {
		if i%2 == 1 {
			continue
		}
		sp.version++
		payload := domain.RatingPayload{
			ID:          sp.id,
			Version:     sp.version,
			Rating:      3.0 + float64(rand.Intn(21))/10.0,
			ReviewCount: 5 + rand.Intn(500),
		}
		if err := pub.publish(ctx, domain.EventRatingChanged, sp.id, payload); err != nil {
			log.Printf("  WARNING: rating for %q: %v", sp.def.name, err)
		}
	}

	// ---------------------------------------------------------------
	// 6. Delete the last two products again
	// ---------------------------------------------------------------
	log.Println("Publishing product_deleted events...")
	deleteFrom := len(seeded) - 2
	if deleteFrom < 0 {
		deleteFrom = 0
	}
	for _, sp := range seeded[deleteFrom:] {
		sp.version++
		payload := domain.DeletePayload{ID: sp.id, Version: sp.version}
		if err := pub.publish(ctx, domain.EventProductDeleted, sp.id, payload); err != nil {
			log.Printf("  WARNING: delete %q: %v", sp.def.name, err)
			continue
		}
		log.Printf("  Deleted: %s", sp.def.name)
	}

	// ---------------------------------------------------------------
	// 7. Chaos: duplicates and stale updates
	// ---------------------------------------------------------------
	if chaos {
		log.Println("Chaos mode: replaying duplicate envelopes...")
		for i := 0; i < 3; i++ {
			s := pub.sent[rand.Intn(len(pub.sent))]
			if err := pub.replay(ctx, s); err != nil {
				log.Printf("  WARNING: replay %s: %v", s.env.ID, err)
				continue
			}
			log.Printf("  Replayed %s event %s", s.typ, s.env.ID)
		}

		log.Println("Chaos mode: publishing stale updates...")
		sp := seeded[0] // current version is well past 1 by now
		stalePrice := domain.PricePayload{ID: sp.id, Version: 1, BasePrice: 1, Currency: "USD"}
		if err := pub.publish(ctx, domain.EventPriceChanged, sp.id, stalePrice); err != nil {
			log.Printf("  WARNING: stale price: %v", err)
		}
		staleStock := domain.StockPayload{ID: sp.id, Version: 1, InStock: false, Quantity: 0}
		if err := pub.publish(ctx, domain.EventStockChanged, sp.id, staleStock); err != nil {
			log.Printf("  WARNING: stale stock: %v", err)
		}
		log.Printf("  Stale updates target %s (live version %d)", sp.def.name, sp.version)
	}

	// ---------------------------------------------------------------
	// 8. Summary
	// ---------------------------------------------------------------
	log.Println("Seed complete. Published events:")
	for _, typ := range domain.KnownEventTypes() {
		if n := pub.tally[string(typ)]; n > 0 {
			log.Printf("  %-26s %d", typ, n)
		}
	}
}
