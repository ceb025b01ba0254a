package basket

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"scantally/internal/recognition"
	"scantally/internal/scan"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		recognizer  *mockRecognizer
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	// setupServer rebuilds the ghttp server; each appended handler serves
	// one request, so Its that issue several requests pass a higher count
	setupServer := func(requests int) {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		ghttpServer = ghttp.NewServer()
		for i := 0; i < requests; i++ {
			ghttpServer.AppendHandlers(server.ServeHTTP)
		}
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		recognizer = newMockRecognizer()
		recognizer.result = &recognition.Result{
			Items:   []recognition.Item{{Name: "Milch", Quantity: 1, UnitPrice: 150, TotalPrice: 150}},
			RawText: "Milch 1.50",
		}
		service = NewServiceWithDeps(db, recognizer, storage, &seqIDGenerator{}, &fixedTimeSource{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)})
		auth = BasicAuth{}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		setupServer(1)
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	// openTestSession opens a session directly through the service so each
	// It only needs one HTTP request
	openTestSession := func() *SessionView {
		return service.OpenSession(scan.ModeAuto, time.Nanosecond)
	}

	frameRequest := func(url string) *http.Request {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("frame", "frame.jpg")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("frame bytes"))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest("POST", url, &body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req
	}

	Describe("POST /api/sessions", func() {
		It("opens a session", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/sessions", "application/json",
				strings.NewReader(`{"mode": "manual", "min_scan_interval_ms": 1000}`))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var view SessionView
			Expect(json.NewDecoder(resp.Body).Decode(&view)).To(Succeed())
			Expect(view.ID).To(Equal("id-1"))
			Expect(view.Mode).To(Equal(scan.ModeManual))
		})

		It("defaults to auto mode on an empty body", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/sessions", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var view SessionView
			Expect(json.NewDecoder(resp.Body).Decode(&view)).To(Succeed())
			Expect(view.Mode).To(Equal(scan.ModeAuto))
		})

		It("rejects an invalid mode", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/sessions", "application/json",
				strings.NewReader(`{"mode": "turbo"}`))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /api/sessions/{id}/frames", func() {
		It("scans a frame and reports the outcome", func() {
			view := openTestSession()
			req := frameRequest(ghttpServer.URL() + "/api/sessions/" + view.ID + "/frames")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result struct {
				Outcome scan.Outcome `json:"outcome"`
				Session SessionView  `json:"session"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
			Expect(result.Outcome.Status).To(Equal(scan.StatusAdded))
			Expect(result.Session.Items).To(HaveLen(1))
			Expect(result.Session.TotalAmount).To(Equal(int64(150)))
		})

		It("reports recognizer failures in the outcome with status OK", func() {
			recognizer.err = io.ErrUnexpectedEOF
			view := openTestSession()
			req := frameRequest(ghttpServer.URL() + "/api/sessions/" + view.ID + "/frames")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result struct {
				Outcome scan.Outcome `json:"outcome"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
			Expect(result.Outcome.Status).To(Equal(scan.StatusFailed))
			Expect(result.Outcome.Error).NotTo(BeEmpty())
		})

		It("returns 404 for an unknown session", func() {
			req := frameRequest(ghttpServer.URL() + "/api/sessions/nope/frames")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("rejects a request without a frame field", func() {
			view := openTestSession()
			var body bytes.Buffer
			writer := multipart.NewWriter(&body)
			Expect(writer.Close()).To(Succeed())
			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/sessions/"+view.ID+"/frames", &body)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", writer.FormDataContentType())

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("PUT /api/sessions/{id}/items/{index}", func() {
		var view *SessionView

		BeforeEach(func() {
			view = openTestSession()
			_, _, err := service.ScanFrame(context.Background(), view.ID, []byte("frame"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
		})

		It("updates the item quantity", func() {
			req, err := http.NewRequest("PUT", ghttpServer.URL()+"/api/sessions/"+view.ID+"/items/0",
				strings.NewReader(`{"quantity": 3}`))
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var updated SessionView
			Expect(json.NewDecoder(resp.Body).Decode(&updated)).To(Succeed())
			Expect(updated.Items[0].Quantity).To(Equal(3))
			Expect(updated.TotalAmount).To(Equal(int64(450)))
		})

		It("rejects a non-numeric index", func() {
			req, err := http.NewRequest("PUT", ghttpServer.URL()+"/api/sessions/"+view.ID+"/items/abc",
				strings.NewReader(`{"quantity": 3}`))
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("DELETE /api/sessions/{id}/items/{index}", func() {
		It("removes the item", func() {
			view := openTestSession()
			_, _, err := service.ScanFrame(context.Background(), view.ID, []byte("frame"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())

			req, err := http.NewRequest("DELETE", ghttpServer.URL()+"/api/sessions/"+view.ID+"/items/0", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var updated SessionView
			Expect(json.NewDecoder(resp.Body).Decode(&updated)).To(Succeed())
			Expect(updated.Items).To(BeEmpty())
		})
	})

	Describe("POST /api/sessions/{id}/confirm", func() {
		It("persists the basket", func() {
			view := openTestSession()
			_, _, err := service.ScanFrame(context.Background(), view.ID, []byte("frame"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())

			resp, err := http.Post(ghttpServer.URL()+"/api/sessions/"+view.ID+"/confirm", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var basket Basket
			Expect(json.NewDecoder(resp.Body).Decode(&basket)).To(Succeed())
			Expect(basket.Items).To(HaveLen(1))
			Expect(db.baskets).To(HaveKey(basket.ID))
		})

		It("rejects confirming an empty session", func() {
			view := openTestSession()
			resp, err := http.Post(ghttpServer.URL()+"/api/sessions/"+view.ID+"/confirm", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/baskets", func() {
		When("baskets exist", func() {
			BeforeEach(func() {
				db.baskets["b1"] = &Basket{ID: "b1", TotalAmount: 150}
				db.baskets["b2"] = &Basket{ID: "b2", TotalAmount: 370}
			})

			It("returns all of them", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/baskets")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var baskets []*Basket
				Expect(json.NewDecoder(resp.Body).Decode(&baskets)).To(Succeed())
				Expect(baskets).To(HaveLen(2))
			})
		})

		When("no baskets exist", func() {
			It("returns an empty JSON array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/baskets")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
			})
		})
	})

	Describe("GET /api/baskets/{id}/image", func() {
		BeforeEach(func() {
			db.baskets["b1"] = &Basket{ID: "b1", ImageFilename: "b1.jpg", ImageContentType: "image/jpeg"}
			storage.files["b1.jpg"] = []byte("img")
		})

		It("returns the snapshot bytes", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/baskets/b1/image")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(Equal([]byte("img")))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
			server = NewServerWithMux(service, auth, http.NewServeMux())
			setupServer(1)
		})

		It("rejects requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/baskets")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("accepts requests with valid credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/baskets", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:pass")))

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
