package optimizer

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Genetic search defaults.
const (
	DefaultPopulationSize = 50
	DefaultGenerations    = 20
	DefaultTournamentSize = 3
	DefaultMutationRate   = 0.1

	geneMinAmount  = 50
	geneMaxAmount  = 300
	geneAmountStep = 10
	geneMaxEvents  = 2
	geneFirstHour  = 5
	geneLastHour   = 21

	deficitWeight = 2.0
	excessWeight  = 1.0
	wasteRate     = 0.05 // penalty per unit watered on a rainy day
	timingBonus   = 2.0
	middayPenalty = 3.0
)

// Genetic evolves random schedules towards the plant's moisture band.
//
// The best individual of every generation is carried into the next one
// unchanged, so the best fitness never decreases.
type Genetic struct {
	PopulationSize int
	Generations    int
	TournamentSize int
	MutationRate   float64

	// Seed fixes the random stream. Zero seeds from the clock.
	Seed uint64
}

// NewGenetic returns a Genetic strategy with the default parameters.
func NewGenetic(seed uint64) *Genetic {
	return &Genetic{
		PopulationSize: DefaultPopulationSize,
		Generations:    DefaultGenerations,
		TournamentSize: DefaultTournamentSize,
		MutationRate:   DefaultMutationRate,
		Seed:           seed,
	}
}

// Generate implements ScheduleStrategy.
func (g *Genetic) Generate(ctx context.Context, in Input) (Schedule, error) {
	best, _, err := g.Evolve(ctx, in)
	return best, err
}

type individual struct {
	schedule Schedule
	fitness  float64
}

// Evolve runs the search and returns the best schedule together with the
// best fitness after the initial population and after each generation.
func (g *Genetic) Evolve(ctx context.Context, in Input) (Schedule, []float64, error) {
	rng := g.rand()
	size := max(g.PopulationSize, 2)
	tournament := max(g.TournamentSize, 1)

	pop := make([]individual, size)
	for i := range pop {
		s := g.randomSchedule(rng, in)
		pop[i] = individual{s, Fitness(s, in)}
	}
	elite := fittest(pop)
	history := []float64{elite.fitness}

	for gen := 0; gen < g.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return Schedule{}, nil, err
		}

		next := make([]individual, 0, size)
		next = append(next, individual{elite.schedule.Clone(), elite.fitness})
		for len(next) < size {
			a := selectTournament(rng, pop, tournament)
			b := selectTournament(rng, pop, tournament)
			child := crossover(rng, a.schedule, b.schedule)
			if rng.Float64() < g.MutationRate {
				g.mutate(rng, &child)
			}
			next = append(next, individual{child, Fitness(child, in)})
		}

		pop = next
		elite = fittest(pop)
		history = append(history, elite.fitness)
	}

	return elite.schedule, history, nil
}

func (g *Genetic) rand() *rand.Rand {
	seed := g.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func (g *Genetic) randomSchedule(rng *rand.Rand, in Input) Schedule {
	s := emptySchedule(in)
	for i := range s.Days {
		n := rng.IntN(geneMaxEvents + 1)
		for j := 0; j < n; j++ {
			s.Days[i].Events = append(s.Days[i].Events, randomEvent(rng))
		}
		s.Days[i].sortEvents()
	}
	return s
}

func randomEvent(rng *rand.Rand) Event {
	return Event{
		Time:     randomTime(rng),
		Amount:   randomAmount(rng),
		Reason:   "genetic search",
		Priority: PriorityMedium,
	}
}

func randomTime(rng *rand.Rand) string {
	hour := geneFirstHour + rng.IntN(geneLastHour-geneFirstHour+1)
	return formatClock(hour*60 + 30*rng.IntN(2))
}

func randomAmount(rng *rand.Rand) float64 {
	steps := (geneMaxAmount - geneMinAmount) / geneAmountStep
	return float64(geneMinAmount + geneAmountStep*rng.IntN(steps+1))
}

// mutate changes one random day: its time, its amount, or its event count.
func (g *Genetic) mutate(rng *rand.Rand, s *Schedule) {
	if len(s.Days) == 0 {
		return
	}
	day := &s.Days[rng.IntN(len(s.Days))]

	switch op := rng.IntN(3); {
	case op == 0 && len(day.Events) > 0:
		day.Events[rng.IntN(len(day.Events))].Time = randomTime(rng)
	case op == 1 && len(day.Events) > 0:
		e := &day.Events[rng.IntN(len(day.Events))]
		e.Amount = clamp(e.Amount+float64(geneAmountStep*(rng.IntN(11)-5)), geneMinAmount, geneMaxAmount)
	default:
		if len(day.Events) > 0 && (len(day.Events) >= geneMaxEvents || rng.IntN(2) == 0) {
			i := rng.IntN(len(day.Events))
			day.Events = append(day.Events[:i], day.Events[i+1:]...)
		} else {
			day.Events = append(day.Events, randomEvent(rng))
		}
	}
	day.sortEvents()
}

// crossover takes days [0, cut) from a and the rest from b.
func crossover(rng *rand.Rand, a, b Schedule) Schedule {
	if len(a.Days) < 2 {
		return a.Clone()
	}
	cut := 1 + rng.IntN(len(a.Days)-1)
	child := a.Clone()
	bc := b.Clone()
	copy(child.Days[cut:], bc.Days[cut:])
	return child
}

func selectTournament(rng *rand.Rand, pop []individual, k int) individual {
	best := pop[rng.IntN(len(pop))]
	for i := 1; i < k; i++ {
		c := pop[rng.IntN(len(pop))]
		if c.fitness > best.fitness {
			best = c
		}
	}
	return best
}

func fittest(pop []individual) individual {
	best := pop[0]
	for _, ind := range pop[1:] {
		if ind.fitness > best.fitness {
			best = ind
		}
	}
	return best
}

// Fitness scores a schedule: 100 minus moisture-band and waste penalties,
// plus timing bonuses. Deficits weigh twice as much as excess.
func Fitness(s Schedule, in Input) float64 {
	score := 100.0
	m := in.StartMoisture()

	for i, d := range s.Days {
		day := in.day(i)
		for _, e := range d.Events {
			if day.RainProbability > rainScaleThreshold {
				score -= wasteRate * e.Amount
			}
			hour := clockMinutes(e.Time) / 60
			switch {
			case (hour >= 6 && hour < 9) || (hour >= 17 && hour < 19):
				score += timingBonus
			case hour >= 11 && hour < 15:
				score -= middayPenalty
			}
		}

		m = nextMoisture(m, d.Water(), day)
		if dist := bandDistance(m, in.Profile); dist < 0 {
			score -= deficitWeight * math.Abs(dist)
		} else {
			score -= excessWeight * dist
		}
	}
	return score
}
