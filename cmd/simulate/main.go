// Command simulate starts the API on a loopback listener over the in-memory
// store, races patients for the same slots over HTTP and then audits the
// store: no slot may ever end up with two live appointments.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/api"
	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/auth"
	"github.com/hackgods/clinic-slot-booking/internal/logger"
	"github.com/hackgods/clinic-slot-booking/internal/metrics"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
	"github.com/hackgods/clinic-slot-booking/internal/seed"
	"github.com/hackgods/clinic-slot-booking/internal/store"
)

const metricsNamespace = "simulate"

type options struct {
	raceSlots int
	racers    int
	load      time.Duration
	workers   int
	doctors   int
	patients  int
	days      int
	logLevel  string
}

func parseFlags() options {
	var o options
	flag.IntVar(&o.raceSlots, "race-slots", 20, "slots contended in the race phase")
	flag.IntVar(&o.racers, "racers", 25, "concurrent patients per contended slot")
	flag.DurationVar(&o.load, "load", 10*time.Second, "length of the mixed load phase, 0 skips it")
	flag.IntVar(&o.workers, "workers", 16, "mixed load workers")
	flag.IntVar(&o.doctors, "doctors", 5, "doctors to seed")
	flag.IntVar(&o.patients, "patients", 300, "patients to seed")
	flag.IntVar(&o.days, "days", 7, "days of slots to generate")
	flag.StringVar(&o.logLevel, "log-level", "info", "log level")
	flag.Parse()
	return o
}

func (o options) validate() error {
	switch {
	case o.racers < 2:
		return errors.New("-racers must be at least 2")
	case o.patients < o.racers:
		return errors.New("-patients must be at least -racers")
	case o.load > 0 && o.workers <= 0:
		return errors.New("-workers must be positive")
	}
	return nil
}

// slotRef is what a patient needs to book a slot.
type slotRef struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
	ClinicID uuid.UUID
	RoomID   *uuid.UUID
	Date     string
}

type heldAppointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
}

// fixture is the seeded world the phases draw from.
type fixture struct {
	patients []uuid.UUID
	tokens   map[uuid.UUID]string
	slots    []slotRef

	mu   sync.Mutex
	held []heldAppointment
}

func (f *fixture) hold(a heldAppointment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = append(f.held, a)
}

// release removes and returns a random held appointment.
func (f *fixture) release(rng *rand.Rand) (heldAppointment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.held) == 0 {
		return heldAppointment{}, false
	}
	i := rng.Intn(len(f.held))
	a := f.held[i]
	f.held[i] = f.held[len(f.held)-1]
	f.held = f.held[:len(f.held)-1]
	return a, true
}

// tally counts response outcomes per operation.
type tally struct {
	mu     sync.Mutex
	counts map[string]map[string]int
}

func newTally() *tally { return &tally{counts: make(map[string]map[string]int)} }

func (t *tally) add(op string, status int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[op] == nil {
		t.counts[op] = make(map[string]int)
	}
	t.counts[op][outcome(status)]++
}

func outcome(status int) string {
	switch {
	case status == 0:
		return "transport_error"
	case status < 300:
		return "ok"
	case status == http.StatusConflict:
		return "conflict"
	default:
		return http.StatusText(status)
	}
}

type raceResult struct {
	slots  int
	racers int
	clean  int
	wrong  []string
}

type auditResult struct {
	liveSlots    int
	doubleBooked int
	orphaned     int
}

func (a auditResult) ok() bool { return a.doubleBooked == 0 && a.orphaned == 0 }

type client struct {
	baseURL string
	http    *http.Client
	fx      *fixture
}

func main() {
	opts := parseFlags()
	if err := opts.validate(); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	zl, err := logger.New(opts.logLevel, "console")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx := context.Background()
	mem := store.NewMemory()
	m := metrics.NewCollector(metricsNamespace)
	appts := appointment.NewService(mem, nil, zl.Named("appointment").WithOptions(zap.IncreaseLevel(zap.WarnLevel)), m,
		appointment.Options{ReleaseSlotOnCancel: true})
	schedules := schedule.NewService(mem, nil, zl.Named("schedule"), m, 92)
	tokens := auth.NewManager("simulate-"+uuid.NewString(), "simulate", time.Hour)

	from := time.Now().UTC()
	res, err := seed.New(mem, schedules, zl.Named("seed")).Run(ctx, seed.Options{
		Clinics:        2,
		RoomsPerClinic: 2,
		Doctors:        opts.doctors,
		Patients:       opts.patients,
		Days:           opts.days,
		From:           from,
	})
	if err != nil {
		zl.Fatal("seed", zap.Error(err))
	}

	fx, err := buildFixture(ctx, appts, tokens, res, from, opts.days)
	if err != nil {
		zl.Fatal("build fixture", zap.Error(err))
	}
	zl.Info("fixture ready", zap.Int("patients", len(fx.patients)), zap.Int("slots", len(fx.slots)))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		zl.Fatal("listen", zap.Error(err))
	}
	srv := &http.Server{
		Handler: api.NewRouter(api.RouterConfig{
			Appointments: appts,
			Schedules:    schedules,
			Tokens:       tokens,
			Metrics:      m,
			Logger:       zap.NewNop(),
			Env:          "simulate",
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("serve", zap.Error(err))
		}
	}()
	defer func() { _ = srv.Close() }()

	c := &client{baseURL: "http://" + ln.Addr().String(), http: &http.Client{Timeout: 10 * time.Second}, fx: fx}
	outcomes := newTally()

	race := runRace(ctx, c, outcomes, opts, zl)
	if opts.load > 0 {
		runLoad(c, outcomes, opts, zl)
	}
	aud, err := runAudit(ctx, mem, appts)
	if err != nil {
		zl.Fatal("audit", zap.Error(err))
	}

	report(os.Stdout, race, outcomes, aud, m)
	if len(race.wrong) > 0 || !aud.ok() {
		os.Exit(1)
	}
}

func buildFixture(ctx context.Context, svc *appointment.Service, tokens *auth.Manager, res *seed.Result, from time.Time, days int) (*fixture, error) {
	fx := &fixture{patients: res.PatientIDs, tokens: make(map[uuid.UUID]string, len(res.PatientIDs))}

	for _, id := range res.PatientIDs {
		tok, err := tokens.Issue(auth.Principal{ID: id, Role: auth.RolePatient})
		if err != nil {
			return nil, err
		}
		fx.tokens[id] = tok
	}

	for _, doctorID := range res.DoctorIDs {
		for d := 0; d < days; d++ {
			date := from.AddDate(0, 0, d).Format(time.DateOnly)
			slots, err := svc.ListAvailableSlots(ctx, doctorID.String(), date)
			if err != nil {
				return nil, fmt.Errorf("list slots: %w", err)
			}
			for _, s := range slots {
				fx.slots = append(fx.slots, slotRef{ID: s.ID, DoctorID: s.DoctorID, ClinicID: s.ClinicID, RoomID: s.RoomID, Date: date})
			}
		}
	}

	if len(fx.slots) == 0 {
		return nil, errors.New("no slots generated; raise -days or -doctors")
	}
	return fx, nil
}

// runRace sends racers simultaneous bookings for each of the first raceSlots
// slots. Exactly one must win each slot; the rest must get 409.
func runRace(ctx context.Context, c *client, outcomes *tally, opts options, zl *zap.Logger) raceResult {
	res := raceResult{slots: min(opts.raceSlots, len(c.fx.slots)), racers: opts.racers}

	for i := 0; i < res.slots; i++ {
		slot := c.fx.slots[i]
		start := make(chan struct{})
		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup

		for _, patient := range c.fx.patients[:opts.racers] {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				status, id := c.book(ctx, patient, slot)
				outcomes.add("race", status)
				switch status {
				case http.StatusCreated:
					wins.Add(1)
					c.fx.hold(heldAppointment{ID: id, PatientID: patient})
				case http.StatusConflict:
					conflicts.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if wins.Load() == 1 && int(conflicts.Load()) == opts.racers-1 {
			res.clean++
			continue
		}
		res.wrong = append(res.wrong, slot.ID.String())
		zl.Error("race produced a wrong outcome",
			zap.Stringer("slot_id", slot.ID),
			zap.Int32("wins", wins.Load()),
			zap.Int32("conflicts", conflicts.Load()))
	}
	return res
}

// runLoad mixes bookings (half), cancellations and slot listings until the
// load duration runs out.
func runLoad(c *client, outcomes *tally, opts options, zl *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), opts.load)
	defer cancel()

	zl.Info("mixed load", zap.Duration("duration", opts.load), zap.Int("workers", opts.workers))

	var wg sync.WaitGroup
	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func(rngSeed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(rngSeed))
			for ctx.Err() == nil {
				var op string
				var status int
				switch r := rng.Intn(10); {
				case r < 5:
					op, status = "book", c.bookRandom(ctx, rng)
				case r < 7:
					op = "cancel"
					a, ok := c.fx.release(rng)
					if !ok {
						continue
					}
					status = c.cancel(ctx, a)
				default:
					slot := c.fx.slots[rng.Intn(len(c.fx.slots))]
					op = "list_slots"
					status = c.call(ctx, http.MethodGet, fmt.Sprintf("/doctors/%s/slots?date=%s", slot.DoctorID, slot.Date), "", nil, nil)
				}
				if ctx.Err() != nil {
					return
				}
				outcomes.add(op, status)
			}
		}(time.Now().UnixNano() + int64(i))
	}
	wg.Wait()
}

func (c *client) book(ctx context.Context, patient uuid.UUID, slot slotRef) (int, uuid.UUID) {
	req := api.BookAppointmentRequest{
		DoctorID:      slot.DoctorID.String(),
		ClinicID:      slot.ClinicID.String(),
		SlotID:        slot.ID.String(),
		PaymentAmount: 5000,
		PaymentMethod: "card",
	}
	if slot.RoomID != nil {
		req.RoomID = slot.RoomID.String()
	}
	body, _ := json.Marshal(req)

	var out api.AppointmentEnvelope
	status := c.call(ctx, http.MethodPost, "/appointments", c.fx.tokens[patient], body, &out)
	return status, out.Appointment.ID
}

func (c *client) bookRandom(ctx context.Context, rng *rand.Rand) int {
	slot := c.fx.slots[rng.Intn(len(c.fx.slots))]
	patient := c.fx.patients[rng.Intn(len(c.fx.patients))]

	status, id := c.book(ctx, patient, slot)
	if status == http.StatusCreated {
		c.fx.hold(heldAppointment{ID: id, PatientID: patient})
	}
	return status
}

func (c *client) cancel(ctx context.Context, a heldAppointment) int {
	return c.call(ctx, http.MethodPost, fmt.Sprintf("/appointments/%s/cancel", a.ID), c.fx.tokens[a.PatientID],
		[]byte(`{"reason":"simulated"}`), nil)
}

// call returns the response status, or 0 when the request never got one.
func (c *client) call(ctx context.Context, method, path, token string, body []byte, out any) int {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

// runAudit checks the store after the load: at most one live appointment per
// slot and no booked slot left without one.
func runAudit(ctx context.Context, mem *store.Memory, svc *appointment.Service) (auditResult, error) {
	var res auditResult
	for _, n := range mem.LiveAppointmentsBySlot() {
		res.liveSlots++
		if n > 1 {
			res.doubleBooked++
		}
	}

	orphans, err := svc.FindOrphanedSlots(ctx, 0)
	if err != nil {
		return res, err
	}
	res.orphaned = len(orphans)
	return res, nil
}

func report(out io.Writer, race raceResult, outcomes *tally, aud auditResult, m *metrics.Collector) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "\nrace\t%d slots x %d racers\t%d clean\t%d wrong\n", race.slots, race.racers, race.clean, len(race.wrong))
	for _, id := range race.wrong {
		fmt.Fprintf(w, "\t\twrong slot\t%s\n", id)
	}

	fmt.Fprintln(w, "\noperation\toutcome\tcount")
	ops := make([]string, 0, len(outcomes.counts))
	for op := range outcomes.counts {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		results := make([]string, 0, len(outcomes.counts[op]))
		for r := range outcomes.counts[op] {
			results = append(results, r)
		}
		sort.Strings(results)
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%s\t%d\n", op, r, outcomes.counts[op][r])
		}
	}

	fmt.Fprintln(w, "\nroute\trequests\tmean latency")
	for _, l := range routeLatencies(m) {
		fmt.Fprintf(w, "%s\t%d\t%s\n", l.route, l.count, l.mean.Round(time.Microsecond))
	}

	verdict := "PASS"
	if len(race.wrong) > 0 || !aud.ok() {
		verdict = "FAIL"
	}
	fmt.Fprintf(w, "\naudit\tslots held %d\tdouble booked %d\torphaned %d\t%s\n",
		aud.liveSlots, aud.doubleBooked, aud.orphaned, verdict)
}

type routeLatency struct {
	route string
	count uint64
	mean  time.Duration
}

// routeLatencies reads the request duration histogram the HTTP middleware
// fills, summed over methods.
func routeLatencies(m *metrics.Collector) []routeLatency {
	families, err := m.Registry().Gather()
	if err != nil {
		return nil
	}

	byRoute := make(map[string]*dto.Histogram)
	for _, fam := range families {
		if fam.GetName() != metricsNamespace+"_http_request_duration_seconds" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			var route string
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "route" {
					route = lp.GetValue()
				}
			}
			h := metric.GetHistogram()
			agg, ok := byRoute[route]
			if !ok {
				agg = &dto.Histogram{SampleCount: new(uint64), SampleSum: new(float64)}
				byRoute[route] = agg
			}
			*agg.SampleCount += h.GetSampleCount()
			*agg.SampleSum += h.GetSampleSum()
		}
	}

	out := make([]routeLatency, 0, len(byRoute))
	for route, h := range byRoute {
		l := routeLatency{route: route, count: h.GetSampleCount()}
		if l.count > 0 {
			l.mean = time.Duration(h.GetSampleSum() / float64(l.count) * float64(time.Second))
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].route < out[j].route })
	return out
}
