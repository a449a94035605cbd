package repo_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/LeventeLantos/cohort-sms/internal/model"
	"github.com/LeventeLantos/cohort-sms/internal/repo"
)

type storeFactory func(ctx context.Context, mode repo.DeleteMode) repo.Store

func phonesOf(people []model.Person) []string {
	out := make([]string, 0, len(people))
	for _, p := range people {
		out = append(out, p.PhoneNumber)
	}
	return out
}

func peopleRepositoryContract(newStore storeFactory) {
	var (
		ctx   context.Context
		store repo.Store
	)

	enroll := func(phone, cohort string) model.Person {
		p, err := store.Create(ctx, model.NewPerson(phone, cohort))
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	Context("with soft delete", func() {
		BeforeEach(func() {
			ctx = context.Background()
			store = newStore(ctx, repo.SoftDelete)
			DeferCleanup(func() { _ = store.Close() })
		})

		It("creates a person and finds it by phone number and cohort", func() {
			created := enroll("+15550001", "2024-01-01")
			Expect(created.CreatedAt).NotTo(BeZero())
			Expect(created.UpdatedAt).NotTo(BeZero())
			Expect(created.DeletedAt).To(BeNil())

			found, err := store.FindOne(ctx, "+15550001", "2024-01-01")
			Expect(err).NotTo(HaveOccurred())
			Expect(found.ID).To(Equal(created.ID))
			Expect(found.Cohort).To(Equal("2024-01-01"))
		})

		It("returns ErrNotFound for an unknown pair", func() {
			enroll("+15550001", "2024-01-01")

			_, err := store.FindOne(ctx, "+15550001", "2024-01-02")
			Expect(err).To(MatchError(repo.ErrNotFound))
		})

		It("rejects a second record for the same phone number and cohort", func() {
			enroll("+15550001", "2024-01-01")

			_, err := store.Create(ctx, model.NewPerson("+15550001", "2024-01-01"))
			Expect(err).To(MatchError(repo.ErrAlreadyEnrolled))
		})

		It("lets one phone number enroll in several cohorts", func() {
			enroll("+15550001", "2024-01-01")
			enroll("+15550001", "2024-01-02")

			all, err := store.FindAllByCohort(ctx, repo.AllCohorts())
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
		})

		It("stores exactly one record under concurrent duplicate enrollment", func() {
			const attempts = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				conflicts int
			)
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := store.Create(ctx, model.NewPerson("+15550009", "2024-01-01"))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, repo.ErrAlreadyEnrolled):
						conflicts++
					default:
						Fail("unexpected error: " + err.Error())
					}
				}()
			}
			wg.Wait()

			Expect(succeeded).To(Equal(1))
			Expect(conflicts).To(Equal(attempts - 1))

			people, err := store.FindAllByCohort(ctx, repo.InCohort("2024-01-01"))
			Expect(err).NotTo(HaveOccurred())
			Expect(people).To(HaveLen(1))
		})

		It("filters by cohort and orders by phone number", func() {
			enroll("+15550003", "2024-01-01")
			enroll("+15550001", "2024-01-01")
			enroll("+15550002", "2024-01-02")

			people, err := store.FindAllByCohort(ctx, repo.InCohort("2024-01-01"))
			Expect(err).NotTo(HaveOccurred())
			Expect(phonesOf(people)).To(Equal([]string{"+15550001", "+15550003"}))

			all, err := store.FindAllByCohort(ctx, repo.AllCohorts())
			Expect(err).NotTo(HaveOccurred())
			Expect(phonesOf(all)).To(Equal([]string{"+15550001", "+15550002", "+15550003"}))
		})

		It("soft deletes a cohort and hides the records from queries", func() {
			enroll("+15550001", "2024-01-01")
			enroll("+15550002", "2024-01-01")
			enroll("+15550003", "2024-01-02")

			n, err := store.DeleteByCohort(ctx, repo.InCohort("2024-01-01"))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeEquivalentTo(2))

			left, err := store.FindAllByCohort(ctx, repo.AllCohorts())
			Expect(err).NotTo(HaveOccurred())
			Expect(phonesOf(left)).To(Equal([]string{"+15550003"}))

			_, err = store.FindOne(ctx, "+15550001", "2024-01-01")
			Expect(err).To(MatchError(repo.ErrNotFound))
		})

		It("allows re-enrollment after a soft delete", func() {
			enroll("+15550001", "2024-01-01")
			_, err := store.DeleteByCohort(ctx, repo.AllCohorts())
			Expect(err).NotTo(HaveOccurred())

			enroll("+15550001", "2024-01-01")
		})

		It("does not count already deleted records twice", func() {
			enroll("+15550001", "2024-01-01")

			n, err := store.DeleteByCohort(ctx, repo.AllCohorts())
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeEquivalentTo(1))

			n, err = store.DeleteByCohort(ctx, repo.AllCohorts())
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeEquivalentTo(0))
		})

		It("purges soft-deleted records older than the cutoff", func() {
			enroll("+15550001", "2024-01-01")
			enroll("+15550002", "2024-01-01")
			_, err := store.DeleteByCohort(ctx, repo.AllCohorts())
			Expect(err).NotTo(HaveOccurred())

			n, err := store.PurgeDeleted(ctx, time.Now().Add(-time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeEquivalentTo(0))

			n, err = store.PurgeDeleted(ctx, time.Now().Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeEquivalentTo(2))
		})
	})

	Context("with hard delete", func() {
		BeforeEach(func() {
			ctx = context.Background()
			store = newStore(ctx, repo.HardDelete)
			DeferCleanup(func() { _ = store.Close() })
		})

		It("removes every record and reports the count", func() {
			enroll("+15550001", "2024-01-01")
			enroll("+15550002", "2024-01-02")

			n, err := store.DeleteByCohort(ctx, repo.AllCohorts())
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeEquivalentTo(2))

			left, err := store.FindAllByCohort(ctx, repo.AllCohorts())
			Expect(err).NotTo(HaveOccurred())
			Expect(left).To(BeEmpty())

			purged, err := store.PurgeDeleted(ctx, time.Now().Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(purged).To(BeEquivalentTo(0))
		})
	})
}

var _ = Describe("SQLitePeopleRepo", func() {
	peopleRepositoryContract(func(ctx context.Context, mode repo.DeleteMode) repo.Store {
		path := filepath.Join(GinkgoT().TempDir(), "people.db")
		store, err := repo.Open(ctx, "sqlite://"+path, mode)
		Expect(err).NotTo(HaveOccurred())
		return store
	})

	It("counts only active records when hard deleting after soft deletes", func() {
		ctx := context.Background()
		url := "sqlite://" + filepath.Join(GinkgoT().TempDir(), "people.db")

		soft, err := repo.Open(ctx, url, repo.SoftDelete)
		Expect(err).NotTo(HaveOccurred())
		for _, phone := range []string{"+15550001", "+15550002", "+15550003"} {
			_, err := soft.Create(ctx, model.NewPerson(phone, "2024-01-01"))
			Expect(err).NotTo(HaveOccurred())
		}
		n, err := soft.DeleteByCohort(ctx, repo.InCohort("2024-01-01"))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeEquivalentTo(3))
		Expect(soft.Close()).To(Succeed())

		hard, err := repo.Open(ctx, url, repo.HardDelete)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = hard.Close() })

		_, err = hard.Create(ctx, model.NewPerson("+15550001", "2024-01-01"))
		Expect(err).NotTo(HaveOccurred())

		n, err = hard.DeleteByCohort(ctx, repo.AllCohorts())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeEquivalentTo(1))

		purged, err := hard.PurgeDeleted(ctx, time.Now().Add(time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(purged).To(BeEquivalentTo(0))
	})
})

var _ = Describe("PostgresPeopleRepo", func() {
	peopleRepositoryContract(func(ctx context.Context, mode repo.DeleteMode) repo.Store {
		url := os.Getenv("PEOPLE_TEST_POSTGRES_URL")
		if url == "" {
			Skip("PEOPLE_TEST_POSTGRES_URL not set")
		}

		pool, err := pgxpool.New(ctx, url)
		Expect(err).NotTo(HaveOccurred())

		store := repo.NewPostgresPeopleRepo(pool, mode)
		Expect(store.EnsureSchema(ctx)).To(Succeed())

		_, err = pool.Exec(ctx, "TRUNCATE TABLE people")
		Expect(err).NotTo(HaveOccurred())
		return store
	})
})

var _ = Describe("Open", func() {
	It("rejects unknown schemes", func() {
		_, err := repo.Open(context.Background(), "mysql://localhost/db", repo.SoftDelete)
		Expect(err).To(MatchError(ContainSubstring(`"mysql"`)))
	})
})

var _ = Describe("ParseDeleteMode", func() {
	It("accepts soft and hard", func() {
		Expect(repo.ParseDeleteMode("soft")).To(Equal(repo.SoftDelete))
		Expect(repo.ParseDeleteMode("hard")).To(Equal(repo.HardDelete))
	})

	It("rejects anything else", func() {
		_, err := repo.ParseDeleteMode("archive")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Scope", func() {
	It("renders the selection", func() {
		Expect(repo.AllCohorts().String()).To(Equal("all"))
		Expect(repo.InCohort("2024-01-01").String()).To(Equal("2024-01-01"))
		Expect(repo.InCohort("2024-01-01").All()).To(BeFalse())
	})
})
