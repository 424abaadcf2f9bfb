package card

import (
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/cardscan/internal/contact"
)

var _ = Describe("MemoryStore", func() {
	var (
		store   *MemoryStore
		session *Session
	)

	BeforeEach(func() {
		store = NewMemoryStore()
		session = &Session{
			ID:        "abc",
			Record:    contact.Record{SenderName: "Jane Doe"},
			Status:    StatusExtracted,
			CreatedAt: fixedTime,
			UpdatedAt: fixedTime,
		}
	})

	Describe("Save", func() {
		It("should store the session", func() {
			Expect(store.Save(session)).To(Succeed())
			got, err := store.Get("abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(session))
		})

		It("should keep its own copy", func() {
			Expect(store.Save(session)).To(Succeed())
			session.Record.SenderName = "changed"

			got, err := store.Get("abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Record.SenderName).To(Equal("Jane Doe"))
		})

		It("should require an ID", func() {
			Expect(store.Save(&Session{})).NotTo(Succeed())
			Expect(store.Save(nil)).NotTo(Succeed())
		})
	})

	Describe("Get", func() {
		It("should return ErrSessionNotFound for an unknown ID", func() {
			_, err := store.Get("missing")
			Expect(err).To(MatchError(ErrSessionNotFound))
		})

		It("should return a copy", func() {
			session.LastError = &ResultError{Message: "boom"}
			Expect(store.Save(session)).To(Succeed())

			got, err := store.Get("abc")
			Expect(err).NotTo(HaveOccurred())
			got.Record.SenderName = "changed"
			got.LastError.Message = "changed"

			again, err := store.Get("abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Record.SenderName).To(Equal("Jane Doe"))
			Expect(again.LastError.Message).To(Equal("boom"))
		})
	})

	Describe("List", func() {
		It("should return sessions oldest first", func() {
			for i, id := range []string{"c", "a", "b"} {
				Expect(store.Save(&Session{ID: id, CreatedAt: fixedTime.Add(time.Duration(2-i) * time.Minute)})).To(Succeed())
			}

			sessions, err := store.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(HaveLen(3))
			Expect(sessions[0].ID).To(Equal("b"))
			Expect(sessions[1].ID).To(Equal("a"))
			Expect(sessions[2].ID).To(Equal("c"))
		})

		It("should return an empty list when there are no sessions", func() {
			sessions, err := store.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(BeEmpty())
		})
	})

	Describe("Delete", func() {
		It("should remove the session", func() {
			Expect(store.Save(session)).To(Succeed())
			Expect(store.Delete("abc")).To(Succeed())
			_, err := store.Get("abc")
			Expect(err).To(MatchError(ErrSessionNotFound))
		})

		It("should return ErrSessionNotFound for an unknown ID", func() {
			Expect(store.Delete("missing")).To(MatchError(ErrSessionNotFound))
		})
	})

	It("should be safe for concurrent use", func() {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				id := fmt.Sprintf("s%d", i)
				Expect(store.Save(&Session{ID: id})).To(Succeed())
				_, err := store.Get(id)
				Expect(err).NotTo(HaveOccurred())
				_, err = store.List()
				Expect(err).NotTo(HaveOccurred())
			}(i)
		}
		wg.Wait()

		sessions, err := store.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(HaveLen(20))
	})
})
