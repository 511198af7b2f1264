package main

import (
	"context"
	"errors"
	"html/template"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"uk.co.dudmesh.helpline/internal/boot"
)

const indexPage = "index.html"

// Template renders the web client's index page so the API location can be
// injected at serve time.
type Template struct {
	mu        sync.RWMutex
	dir       string
	templates *template.Template
	watcher   *fsnotify.Watcher
}

func (t *Template) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.templates.ExecuteTemplate(w, name, data)
}

func (t *Template) parse() error {
	templates, err := template.ParseFiles(path.Join(t.dir, indexPage))
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.templates = templates
	t.mu.Unlock()
	return nil
}

// Watch reparses the index page whenever the build directory changes.
func (t *Template) Watch() error {
	var err error

	t.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case event, ok := <-t.watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					log.Infof("modified file: %s", event.Name)
					if err := t.parse(); err != nil {
						log.Errorf("reloading %s: %v", indexPage, err)
					}
				}
			case err, ok := <-t.watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("watcher: %+v", err)
			}
		}
	}()

	return t.watcher.Add(t.dir)
}

func (t *Template) Close() {
	if t.watcher != nil {
		t.watcher.Close()
	}
}

func NewTemplate(dir string) (*Template, error) {
	t := &Template{dir: dir}
	if err := t.parse(); err != nil {
		return nil, err
	}
	return t, nil
}

type page struct {
	APIURL string
}

// spa serves files that exist in the build directory and the index page for
// every other path so client side routes survive a reload.
func spa(dir string, data *page) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := path.Clean("/" + c.Param("*"))
		if name != "/" && !strings.HasSuffix(name, "/"+indexPage) {
			if info, err := os.Stat(path.Join(dir, name)); err == nil && !info.IsDir() {
				return c.File(path.Join(dir, name))
			}
		}
		return c.Render(http.StatusOK, indexPage, data)
	}
}

func newServer(config *boot.Config, t *Template) *echo.Echo {
	server := echo.New()
	server.HideBanner = true
	server.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	server.Use(echoprometheus.NewMiddleware("helpline_ui"))
	server.Use(middleware.Recover())
	server.Use(middleware.Gzip())

	server.Logger.SetLevel(log.INFO)
	server.Renderer = t

	server.GET("/*", spa(config.UI.BuildDir, &page{APIURL: config.UI.APIURL}))
	return server
}

func main() {
	config, err := boot.Load()
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}

	t, err := NewTemplate(config.UI.BuildDir)
	if err != nil {
		log.Fatalf("loading web client: %+v", err)
	}
	defer t.Close()
	if config.IsDevelopment() {
		if err := t.Watch(); err != nil {
			log.Fatalf("watcher: %+v", err)
		}
	}

	server := newServer(config, t)

	go func() {
		if err := server.Start(":" + config.UI.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		server.Logger.Fatal(err)
	}
}
