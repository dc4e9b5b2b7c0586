package seed

import (
	"fmt"
	"math/rand"
	"time"
)

type OutcomeType struct {
	Key  int
	Name *string
}

type AnimalAttributes struct {
	Key          int
	AnimalType   string
	PrimaryBreed string
	BreedGroup   string
}

type IntakeDetails struct {
	Key              int
	IntakeType       string
	IntakeCondition  string
	HasConditionFlag int
}

type SexOnOutcome struct {
	Key            int
	SexUponOutcome string
	IsMale         int
	IsFemale       int
	IsIntact       int
	AgeGroup       string
}

type DateRow struct {
	Key      int
	FullDate time.Time
	Year     int
	Month    int
}

type FactRow struct {
	OutcomeEventKey     int
	OutcomeKey          int
	AnimalAttributesKey int
	IntakeDetailsKey    int
	SexKey              int
	OutcomeDateKey      int
	DaysInShelter       int
}

func strPtr(value string) *string { return &value }

var outcomeNames = []string{"Adoption", "Transfer", "Return to Owner", "Euthanasia", "Died", "Rto-Adopt"}

var animalAttributes = []AnimalAttributes{
	{1, "Dog", "Labrador Retriever Mix", "Sporting"},
	{2, "Dog", "Pit Bull Mix", "Terrier"},
	{3, "Dog", "Nova Scotia Duck Tolling Retriever", "Sporting"},
	{4, "Dog", "Chihuahua Shorthair Mix", "Toy"},
	{5, "Dog", "Unknown", "Unknown"},
	{6, "Cat", "Domestic Shorthair Mix", "Domestic"},
	{7, "Cat", "Siamese Mix", "Domestic"},
	{8, "Bird", "Duck", "Waterfowl"},
	{9, "Livestock", "Goat Mix", "Livestock"},
	{10, "Other", "Rabbit Sh Mix", "Rabbit"},
	{11, "Other", "Rabbit Lh", "Rabbit"},
	{12, "Other", "Bat Mix", "Wildlife"},
}

var intakeDetails = []IntakeDetails{
	{1, "Stray", "Normal", 0},
	{2, "Owner Surrender", "Normal", 0},
	{3, "Public Assist", "Normal", 0},
	{4, "Stray", "Injured", 1},
	{5, "Stray", "Sick", 1},
	{6, "Owner Surrender", "Sick", 1},
	{7, "Wildlife", "Other", 1},
}

var sexOnOutcome = []SexOnOutcome{
	{1, "Neutered Male", 1, 0, 0, "1-5 Years"},
	{2, "Spayed Female", 0, 1, 0, "1-5 Years"},
	{3, "Intact Male", 1, 0, 1, "Under 1 Year"},
	{4, "Intact Female", 0, 1, 1, "Under 1 Year"},
	{5, "Neutered Male", 1, 0, 0, "5-10 Years"},
	{6, "Spayed Female", 0, 1, 0, "Over 10 Years"},
	{7, "Unknown", 0, 0, 0, "Under 1 Year"},
}

// Dimensions is the fixed dimension content of the demo warehouse.
type Dimensions struct {
	OutcomeTypes     []OutcomeType
	AnimalAttributes []AnimalAttributes
	IntakeDetails    []IntakeDetails
	Sexes            []SexOnOutcome
	Dates            []DateRow
}

func BuildDimensions(includeNullOutcome bool) Dimensions {
	outcomes := make([]OutcomeType, 0, len(outcomeNames)+1)
	for i, name := range outcomeNames {
		outcomes = append(outcomes, OutcomeType{Key: i + 1, Name: strPtr(name)})
	}
	if includeNullOutcome {
		outcomes = append(outcomes, OutcomeType{Key: len(outcomes) + 1})
	}

	dates := make([]DateRow, 0, 72)
	for year := 2015; year <= 2017; year++ {
		for month := 1; month <= 12; month++ {
			for _, day := range []int{1, 15} {
				full := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
				dates = append(dates, DateRow{Key: year*10000 + month*100 + day, FullDate: full, Year: year, Month: month})
			}
		}
	}

	return Dimensions{
		OutcomeTypes:     outcomes,
		AnimalAttributes: append([]AnimalAttributes(nil), animalAttributes...),
		IntakeDetails:    append([]IntakeDetails(nil), intakeDetails...),
		Sexes:            append([]SexOnOutcome(nil), sexOnOutcome...),
		Dates:            dates,
	}
}

// Generator produces deterministic fact rows for a seed.
type Generator struct {
	rnd            *rand.Rand
	dims           Dimensions
	outcomeKeys    map[string]int
	nullOutcomeKey int
	sequence       int
}

func NewGenerator(seed int64, dims Dimensions) *Generator {
	g := &Generator{rnd: rand.New(rand.NewSource(seed)), dims: dims, outcomeKeys: map[string]int{}}
	for _, outcome := range dims.OutcomeTypes {
		if outcome.Name == nil {
			g.nullOutcomeKey = outcome.Key
			continue
		}
		g.outcomeKeys[*outcome.Name] = outcome.Key
	}
	return g
}

func (g *Generator) NextFact() FactRow {
	g.sequence++
	return FactRow{
		OutcomeEventKey:     g.sequence,
		OutcomeKey:          g.pickOutcome(),
		AnimalAttributesKey: g.dims.AnimalAttributes[g.weighted(len(g.dims.AnimalAttributes))].Key,
		IntakeDetailsKey:    g.dims.IntakeDetails[g.weighted(len(g.dims.IntakeDetails))].Key,
		SexKey:              g.dims.Sexes[g.rnd.Intn(len(g.dims.Sexes))].Key,
		OutcomeDateKey:      g.dims.Dates[g.rnd.Intn(len(g.dims.Dates))].Key,
		DaysInShelter:       g.pickStay(),
	}
}

// pickOutcome makes adoption and transfer dominate, like real shelter data.
func (g *Generator) pickOutcome() int {
	if g.nullOutcomeKey != 0 && g.rnd.Intn(50) == 0 {
		return g.nullOutcomeKey
	}
	p := g.rnd.Intn(100)
	var name string
	switch {
	case p < 45:
		name = "Adoption"
	case p < 75:
		name = "Transfer"
	case p < 90:
		name = "Return to Owner"
	case p < 96:
		name = "Euthanasia"
	case p < 99:
		name = "Died"
	default:
		name = "Rto-Adopt"
	}
	key, ok := g.outcomeKeys[name]
	if !ok {
		panic(fmt.Sprintf("outcome %q missing from dimensions", name))
	}
	return key
}

// weighted skews toward the first entries of a dimension.
func (g *Generator) weighted(n int) int {
	a, b := g.rnd.Intn(n), g.rnd.Intn(n)
	if a < b {
		return a
	}
	return b
}

func (g *Generator) pickStay() int {
	p := g.rnd.Intn(100)
	switch {
	case p < 35:
		return g.rnd.Intn(7)
	case p < 70:
		return 7 + g.rnd.Intn(23)
	case p < 92:
		return 30 + g.rnd.Intn(60)
	default:
		return 90 + g.rnd.Intn(200)
	}
}
