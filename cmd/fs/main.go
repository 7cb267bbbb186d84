package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"brenoafb.com/simplefs/pkg/config"
	"brenoafb.com/simplefs/pkg/fs"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:        "fs",
		Usage:       "manage a very simple filesystem volume",
		Description: "a flat filesystem stored on a disk image or in an object store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				EnvVars: []string{"SIMPLEFS_CONFIG_FILE"},
			},
			&cli.StringFlag{Name: "image", Usage: "path of the disk image"},
			&cli.StringFlag{Name: "backend", Usage: "file, mmap, s3 or minio"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.IntFlag{Name: "io-limit", Usage: "device throughput limit in bytes per second"},
		},
		Commands: []*cli.Command{{
			Name:        "format",
			Aliases:     []string{"mkfs"},
			Description: "create an empty volume, destroying anything already there",
			Action:      format,
		}, {
			Name:        "info",
			Description: "print the bitmaps and every file inode",
			Action: withFS(func(fsys *fs.FileSystem, ctx *cli.Context) error {
				return fsys.DisplayInfo(ctx.App.Writer)
			}),
		}, {
			Name:        "ls",
			Aliases:     []string{"list"},
			Description: "list files",
			Action: withFS(func(fsys *fs.FileSystem, ctx *cli.Context) error {
				files, err := fsys.List()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(ctx.App.Writer, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "INODE\tSIZE\tBLOCKS\tNAME")
				for _, f := range files {
					fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", f.Inode, humanize.IBytes(uint64(f.Size)), f.Blocks, f.Name)
				}
				return w.Flush()
			}),
		}, {
			Name:        "stat",
			ArgsUsage:   "NAME",
			Description: "print the metadata of one file",
			Action: withFS(func(fsys *fs.FileSystem, ctx *cli.Context) error {
				name, err := nameArg(ctx)
				if err != nil {
					return err
				}
				info, err := fsys.Stat(name)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(ctx.App.Writer, "name: %s\ninode: %d\nsize: %d (%s)\nblocks: %v\n",
					info.Name, info.Inode, info.Size, humanize.IBytes(uint64(info.Size)), info.Blocks)
				return err
			}),
		}, {
			Name:        "create",
			Aliases:     []string{"touch"},
			ArgsUsage:   "NAME",
			Description: "create an empty file",
			Action: withFS(func(fsys *fs.FileSystem, ctx *cli.Context) error {
				name, err := nameArg(ctx)
				if err != nil {
					return err
				}
				_, err = fsys.Create(name)
				return err
			}),
		}, {
			Name:        "rm",
			Aliases:     []string{"delete", "remove"},
			ArgsUsage:   "NAME",
			Description: "delete a file; deleting a missing file is not an error",
			Action: withFS(func(fsys *fs.FileSystem, ctx *cli.Context) error {
				name, err := nameArg(ctx)
				if err != nil {
					return err
				}
				return fsys.Delete(name)
			}),
		}, {
			Name:        "write",
			ArgsUsage:   "NAME [DATA]",
			Description: "write DATA, or stdin when DATA is omitted, into a file",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "offset", Usage: "byte offset to write at"},
				&cli.BoolFlag{Name: "create", Usage: "create the file if it does not exist"},
			},
			Action: withFS(func(fsys *fs.FileSystem, ctx *cli.Context) error {
				name, err := nameArg(ctx)
				if err != nil {
					return err
				}
				var data []byte
				if ctx.NArg() > 1 {
					data = []byte(strings.Join(ctx.Args().Tail(), " "))
				} else if data, err = io.ReadAll(ctx.App.Reader); err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				if ctx.Bool("create") {
					if _, err := fsys.Create(name); err != nil && !errors.Is(err, fs.ErrAlreadyExists) {
						return err
					}
				}
				return withHandle(fsys, name, ctx.Int("offset"), func(fd int) error {
					return fsys.Write(fd, data)
				})
			}),
		}, {
			Name:        "cat",
			Aliases:     []string{"read"},
			ArgsUsage:   "NAME",
			Description: "print the contents of a file",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "offset", Usage: "byte offset to read from"},
				&cli.IntFlag{Name: "count", Usage: "number of bytes to read; defaults to the rest of the file"},
			},
			Action: withFS(func(fsys *fs.FileSystem, ctx *cli.Context) error {
				name, err := nameArg(ctx)
				if err != nil {
					return err
				}
				offset := ctx.Int("offset")
				count := ctx.Int("count")
				if !ctx.IsSet("count") {
					info, err := fsys.Stat(name)
					if err != nil {
						return err
					}
					count = info.Size - offset
					if count < 0 {
						count = 0
					}
				}
				buf := make([]byte, count)
				if err := withHandle(fsys, name, offset, func(fd int) error {
					return fsys.Read(fd, buf)
				}); err != nil {
					return err
				}
				_, err = ctx.App.Writer.Write(buf)
				return err
			}),
		}, {
			Name:        "demo",
			Description: "walk through creating, writing and reading a file on an in-memory volume",
			Action: func(ctx *cli.Context) error {
				return demo(ctx.App.Writer)
			},
		}},
	}
}

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	c, err := config.Load(ctx.String("config"))
	if err != nil {
		return nil, err
	}
	if ctx.IsSet("image") {
		c.Image = ctx.String("image")
	}
	if ctx.IsSet("backend") {
		c.Backend = ctx.String("backend")
	}
	if ctx.IsSet("log-level") {
		c.LogLevel = ctx.String("log-level")
	}
	if ctx.IsSet("io-limit") {
		c.IOLimit = ctx.Int("io-limit")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func newLogger(c *config.Config) *fs.Logger {
	level, _ := c.Level()
	if strings.EqualFold(c.LogFormat, "json") {
		return fs.NewJSONLogger(level)
	}
	return fs.NewTextLogger(level)
}

func format(ctx *cli.Context) error {
	c, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	dev, err := openDevice(context.Background(), c, true)
	if err != nil {
		return err
	}
	defer dev.Close()

	vol, err := fs.FormatVolume(dev, c.Geometry())
	if err != nil {
		return fmt.Errorf("formatting volume: %w", err)
	}
	if err := vol.Sync(); err != nil {
		return fmt.Errorf("syncing volume: %w", err)
	}
	g := vol.Geometry()
	_, err = fmt.Fprintf(ctx.App.Writer, "formatted volume %s: %d inodes, %d data blocks, %s of data\n",
		vol.Superblock().ID, g.NumInodes, g.NumDataBlocks,
		humanize.IBytes(uint64(g.NumDataBlocks)*uint64(g.BlockSize)))
	return err
}

// withFS mounts the configured volume for the duration of f and flushes it
// afterwards.
func withFS(f func(*fs.FileSystem, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		c, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		dev, err := openDevice(context.Background(), c, false)
		if err != nil {
			return err
		}
		defer dev.Close()

		vol, err := fs.LoadVolume(dev)
		if err != nil {
			return fmt.Errorf("loading volume: %w", err)
		}
		fsys := fs.NewFileSystem(vol,
			fs.WithLogger(newLogger(c).WithVolume(vol.Superblock().ID.String())),
			fs.WithMaxOpenFiles(c.MaxOpenFiles),
		)
		if err := f(fsys, ctx); err != nil {
			return err
		}
		if err := fsys.Sync(); err != nil {
			return fmt.Errorf("syncing volume: %w", err)
		}
		return nil
	}
}

func withHandle(fsys *fs.FileSystem, name string, offset int, f func(fd int) error) error {
	fd, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer fsys.Close(fd)
	if err := fsys.Seek(fd, offset); err != nil {
		return err
	}
	return f(fd)
}

func nameArg(ctx *cli.Context) (string, error) {
	if ctx.NArg() < 1 {
		return "", fmt.Errorf("missing required argument: NAME")
	}
	return ctx.Args().First(), nil
}

// demo is the in-memory walkthrough: format a volume, add a file and read
// it back.
func demo(w io.Writer) error {
	g := fs.DefaultGeometry()
	// create an array large enough for the whole volume
	disk := make([]byte, g.TotalBlocks()*uint64(g.BlockSize))
	// create a BlockDevice that uses the array as storage
	dev := fs.NewArrayBlockDevice(disk, g.BlockSize)

	// create a filesystem on the device
	vol, err := fs.FormatVolume(dev, g)
	if err != nil {
		return err
	}
	filesystem := fs.NewFileSystem(vol, fs.WithLogger(fs.NoopLogger()))

	// display the filesystem info
	if err := filesystem.DisplayInfo(w); err != nil {
		return err
	}

	// Add a file
	content := bytes.NewBufferString("Hello, world!")
	if _, err := filesystem.Create("foo.txt"); err != nil {
		return err
	}
	fd, err := filesystem.Open("foo.txt")
	if err != nil {
		return err
	}
	defer filesystem.Close(fd)
	if err := filesystem.Write(fd, content.Bytes()); err != nil {
		return err
	}

	// display the filesystem info
	if err := filesystem.DisplayInfo(w); err != nil {
		return err
	}

	// Read back the file
	buf := make([]byte, content.Len())
	if err := filesystem.Read(fd, buf); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "File contents: %s\n", buf)
	return err
}
