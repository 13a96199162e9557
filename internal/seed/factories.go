package seed

import (
	"fmt"
	"strings"

	"lfgkeeper/internal/models"

	"github.com/brianvoe/gofakeit/v6"
)

var (
	ranks      = []string{"Iron", "Bronze", "Silver", "Gold", "Platinum", "Diamond", "Ascendant", "Immortal"}
	regions    = []string{"NA", "EU", "APAC", "LATAM", "BR"}
	playstyles = []string{"casual", "competitive", "builders", "speedrun", "roleplay", "survival"}
)

// Factory builds fake payloads that satisfy a domain schema.
type Factory struct {
	faker *gofakeit.Faker
}

// NewFactory creates a factory. The same seed yields the same data.
func NewFactory(seed int64) *Factory {
	return &Factory{faker: gofakeit.New(seed)}
}

// Actor returns a stable-looking chat user id.
func (f *Factory) Actor() string {
	return fmt.Sprintf("%d", f.faker.Number(100000000, 999999999))
}

// Payload fills every required field and roughly half of the optional ones.
func (f *Factory) Payload(schema *models.DomainSchema) map[string]string {
	out := make(map[string]string, len(schema.Fields))
	for _, field := range schema.Fields {
		if !field.Required && f.faker.Bool() {
			continue
		}
		out[field.ID] = truncate(f.value(field.ID), field.MaxLength)
	}
	return out
}

func (f *Factory) value(id string) string {
	switch id {
	case "rank":
		return f.faker.RandomString(ranks)
	case "region":
		return f.faker.RandomString(regions)
	case "playstyle":
		return f.faker.RandomString(playstyles)
	case "server":
		return f.faker.DomainName()
	case "main", "roles":
		return f.faker.Gamertag()
	default:
		return f.faker.Sentence(f.faker.Number(4, 12))
	}
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit > 0 && len([]rune(s)) > limit {
		return strings.TrimSpace(string([]rune(s)[:limit]))
	}
	return s
}
