package card

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/cardscan/internal/contact"
	"github.com/zombor/cardscan/internal/scanning"
)

// multipartBody builds a form with a single "file" field
func multipartBody(filename string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

// decode reads a JSON response body into v
func decode(resp *http.Response, v any) {
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(body, v)).To(Succeed())
}

var _ = Describe("Server", func() {
	var (
		extractor   *mockExtractor
		service     *Service
		server      *Server
		auth        BasicAuth
		opts        []Option
		ghttpServer *ghttp.Server
	)

	do := func(method, path string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	upload := func(path string) *http.Response {
		body, contentType := multipartBody("card.png", []byte("image"))
		return do(http.MethodPost, path, body, contentType)
	}

	createSession := func() string {
		resp := do(http.MethodPost, "/api/sessions", nil, "")
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var session Session
		decode(resp, &session)
		return session.ID
	}

	BeforeEach(func() {
		extractor = newMockExtractor()
		auth = BasicAuth{}
		opts = nil
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(NewMemoryStore(), extractor, testPolicy(), &mockIDGenerator{}, &mockTimeSource{now: fixedTime})
		server = NewServerWithMux(service, auth, http.NewServeMux(), opts...)

		ghttpServer = ghttp.NewServer()
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	Describe("handleIndex", func() {
		It("should return the HTML interface", func() {
			resp := do(http.MethodGet, "/", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/html; charset=utf-8"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("Contact Card Scanner"))
		})

		It("should reject other methods", func() {
			resp := do(http.MethodPost, "/", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})

		It("should not serve unknown paths", func() {
			resp := do(http.MethodGet, "/nope", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := do(http.MethodOptions, "/api/extract", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PATCH"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp := do(http.MethodGet, "/api/fields", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/fields", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/fields", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("handleListFields", func() {
		It("should list the fields in column order", func() {
			resp := do(http.MethodGet, "/api/fields", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var fields []contact.FieldSpec
			decode(resp, &fields)
			Expect(fields).To(Equal(contact.Fields()))
		})
	})

	Describe("handleExtract", func() {
		When("extraction succeeds", func() {
			It("should return the record", func() {
				resp := upload("/api/extract")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var result ExtractionResult
				decode(resp, &result)
				Expect(result.Status).To(Equal(ResultSuccess))
				Expect(*result.Record).To(Equal(extractor.record))
			})

			It("should include every field even when blank", func() {
				resp := upload("/api/extract")
				var raw map[string]json.RawMessage
				decode(resp, &raw)
				var record map[string]string
				Expect(json.Unmarshal(raw["record"], &record)).To(Succeed())
				Expect(record).To(HaveLen(5))
				Expect(record).To(HaveKeyWithValue("senderPhoneNumber", ""))
			})
		})

		DescribeTable("failures",
			func(err error, prepare bool, code int, kind scanning.ErrorKind) {
				if prepare {
					extractor.prepareErr = err
				} else {
					extractor.runErrs = []error{err, err, err}
				}
				resp := upload("/api/extract")
				Expect(resp.StatusCode).To(Equal(code))

				var result ExtractionResult
				decode(resp, &result)
				Expect(result.Status).To(Equal(ResultFailure))
				Expect(result.Record).To(BeNil())
				Expect(result.Error.Kind).To(Equal(kind))
			},
			Entry("encoding", scanning.EncodingError("encoding media", errors.New("bad image")), true, http.StatusUnprocessableEntity, scanning.KindEncoding),
			Entry("transient", scanning.TransientError("calling mock", errors.New("503")), false, http.StatusServiceUnavailable, scanning.KindTransient),
			Entry("invalid response", scanning.InvalidResponseError("validating", errors.New("garbage")), false, http.StatusBadGateway, scanning.KindInvalidResponse),
			Entry("auth", scanning.AuthError("calling mock", errors.New("bad key")), false, http.StatusInternalServerError, scanning.KindAuth),
		)

		When("no file is sent", func() {
			It("should return a failure result", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.WriteField("other", "value")).To(Succeed())
				Expect(writer.Close()).To(Succeed())

				resp := do(http.MethodPost, "/api/extract", body, writer.FormDataContentType())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var result ExtractionResult
				decode(resp, &result)
				Expect(result.Status).To(Equal(ResultFailure))
				Expect(result.Error.Message).To(ContainSubstring("No file was selected"))
				Expect(extractor.Runs()).To(Equal(0))
			})
		})

		When("the body is not a form", func() {
			It("should return bad request", func() {
				resp := do(http.MethodPost, "/api/extract", strings.NewReader("{}"), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the file is too large", func() {
			BeforeEach(func() {
				opts = []Option{WithMaxUploadBytes(1 << 20)}
			})

			It("should refuse it", func() {
				body, contentType := multipartBody("card.png", bytes.Repeat([]byte("a"), 3<<19))
				resp := do(http.MethodPost, "/api/extract", body, contentType)
				Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
				var result ExtractionResult
				decode(resp, &result)
				Expect(result.Error.Message).To(ContainSubstring("Maximum size is 1MB"))
				Expect(extractor.Runs()).To(Equal(0))
			})
		})
	})

	Describe("sessions", func() {
		It("should create a session with an empty record", func() {
			resp := do(http.MethodPost, "/api/sessions", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var session Session
			decode(resp, &session)
			Expect(session.ID).To(Equal("session-1"))
			Expect(session.Status).To(Equal(StatusEmpty))
			Expect(session.Record.IsEmpty()).To(BeTrue())
		})

		It("should get a session", func() {
			id := createSession()
			resp := do(http.MethodGet, "/api/sessions/"+id, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should list sessions", func() {
			createSession()
			resp := do(http.MethodGet, "/api/sessions", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var sessions []*Session
			decode(resp, &sessions)
			Expect(sessions).To(HaveLen(1))
		})

		It("should return not found for an unknown session", func() {
			resp := do(http.MethodGet, "/api/sessions/missing", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should delete a session", func() {
			id := createSession()
			resp := do(http.MethodDelete, "/api/sessions/"+id, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp = do(http.MethodGet, "/api/sessions/"+id, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

			resp = do(http.MethodDelete, "/api/sessions/"+id, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		Describe("extract into a session", func() {
			It("should replace the record on success", func() {
				id := createSession()
				resp := upload("/api/sessions/" + id + "/extract")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var body sessionExtractResponse
				decode(resp, &body)
				Expect(body.Status).To(Equal(ResultSuccess))
				Expect(body.Session.Record).To(Equal(extractor.record))
				Expect(body.Session.Status).To(Equal(StatusExtracted))
			})

			It("should report failure and keep the record", func() {
				extractor.runErrs = []error{scanning.InvalidResponseError("validating", errors.New("garbage"))}
				id := createSession()
				resp := upload("/api/sessions/" + id + "/extract")
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))

				var body sessionExtractResponse
				decode(resp, &body)
				Expect(body.Status).To(Equal(ResultFailure))
				Expect(body.Record).To(BeNil())
				Expect(body.Session.Record.IsEmpty()).To(BeTrue())
				Expect(body.Session.Status).To(Equal(StatusFailed))
			})

			It("should return not found for an unknown session", func() {
				resp := upload("/api/sessions/missing/extract")
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				Expect(extractor.Runs()).To(Equal(0))
			})
		})

		Describe("edit the record", func() {
			It("should apply the edits", func() {
				id := createSession()
				resp := do(http.MethodPatch, "/api/sessions/"+id+"/record", strings.NewReader(`{"receiverAddress": "12 Main St, Springfield"}`), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var session Session
				decode(resp, &session)
				Expect(session.Record.ReceiverAddress).To(Equal("12 Main St, Springfield"))
			})

			It("should reject unknown fields", func() {
				id := createSession()
				resp := do(http.MethodPatch, "/api/sessions/"+id+"/record", strings.NewReader(`{"email": "x"}`), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var body map[string]string
				decode(resp, &body)
				Expect(body["error"]).To(ContainSubstring("unknown field"))
			})

			It("should reject a malformed body", func() {
				id := createSession()
				resp := do(http.MethodPatch, "/api/sessions/"+id+"/record", strings.NewReader(`not json`), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})

			It("should return not found for an unknown session", func() {
				resp := do(http.MethodPatch, "/api/sessions/missing/record", strings.NewReader(`{"senderName": "x"}`), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		Describe("download CSV", func() {
			It("should send the record as an attachment", func() {
				id := createSession()
				resp := upload("/api/sessions/" + id + "/extract")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				resp = do(http.MethodGet, "/api/sessions/"+id+"/csv", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("text/csv; charset=utf-8"))
				Expect(resp.Header.Get("Content-Disposition")).To(Equal(`attachment; filename="contact_data.csv"`))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal("Sender Name,Sender Phone Number,Receiver Name,Receiver Phone Number,Receiver Address\nJane Doe,,John Smith,555-1234,"))
			})

			It("should return not found for an unknown session", func() {
				resp := do(http.MethodGet, "/api/sessions/missing/csv", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})
})

var _ = Describe("uploadContentType", func() {
	DescribeTable("choosing a content type",
		func(header, filename, expected string) {
			Expect(uploadContentType(header, filename)).To(Equal(expected))
		},
		Entry("header wins", "image/jpeg", "card.png", "image/jpeg"),
		Entry("header is normalized", " Image/PNG ", "card", "image/png"),
		Entry("octet-stream falls back to the extension", "application/octet-stream", "card.HEIC", "image/heic"),
		Entry("missing header uses the extension", "", "card.webp", "image/webp"),
		Entry("pdf", "", "card.pdf", "application/pdf"),
		Entry("unknown", "", "card.bin", "application/octet-stream"),
	)
})
